package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/models"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func newAlert(id string, status models.AlertStatus, created time.Time) models.Alert {
	return models.Alert{
		ID:            id,
		ZoneID:        "zone_1",
		ParameterKind: "rockfall_probability",
		Severity:      models.SeverityHigh,
		Value:         4.2,
		CreatedAt:     created,
		UpdatedAt:     created,
		Status:        status,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateAlert(ctx, newAlert("a1", models.StatusNew, t0)))
	assert.ErrorIs(t, m.CreateAlert(ctx, newAlert("a1", models.StatusNew, t0)), ErrExists)

	got, err := m.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)

	_, err = m.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateAlert(ctx, newAlert("a1", models.StatusNew, t0)))

	updated, err := m.CompareAndSetStatus(ctx, "a1", models.StatusNew, models.StatusChange{Status: models.StatusDispatching, At: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatching, updated.Status)
	assert.Equal(t, t0.Add(time.Second), updated.UpdatedAt)

	current, err := m.CompareAndSetStatus(ctx, "a1", models.StatusNew, models.StatusChange{Status: models.StatusCancelled})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.StatusDispatching, current.Status)
}

func TestCompareAndSetCommitsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateAlert(ctx, newAlert("a1", models.StatusAwaitingAck, t0)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CompareAndSetStatus(ctx, "a1", models.StatusAwaitingAck, models.StatusChange{Status: models.StatusAcknowledged}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestReturnedAlertsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	deadline := t0.Add(5 * time.Minute)
	a := newAlert("a1", models.StatusAwaitingAck, t0)
	a.EscalationDeadline = &deadline
	require.NoError(t, m.CreateAlert(ctx, a))

	got, err := m.GetAlert(ctx, "a1")
	require.NoError(t, err)
	*got.EscalationDeadline = t0

	again, err := m.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, deadline, *again.EscalationDeadline)
}

func TestDeliveryAttempts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateAlert(ctx, newAlert("a1", models.StatusDispatching, t0)))

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.AppendDeliveryAttempt(ctx, models.DeliveryAttempt{AlertID: "a1", Channel: models.ChannelSMS, AttemptNumber: i}))
	}
	assert.ErrorIs(t, m.AppendDeliveryAttempt(ctx, models.DeliveryAttempt{AlertID: "nope"}), ErrNotFound)

	attempts, err := m.ListDeliveryAttempts(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, 3, attempts[2].AttemptNumber)
}

func TestListQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	early, late := t0.Add(time.Minute), t0.Add(time.Hour)

	pending := newAlert("pending", models.StatusAwaitingAck, t0)
	pending.EscalationDeadline = &early
	later := newAlert("later", models.StatusAwaitingAck, t0.Add(time.Second))
	later.EscalationDeadline = &late
	done := newAlert("done", models.StatusAcknowledged, t0.Add(2*time.Second))
	exhausted := newAlert("exhausted", models.StatusEscalated, t0.Add(3*time.Second))
	exhausted.Exhausted = true
	other := newAlert("other", models.StatusDispatching, t0.Add(4*time.Second))
	other.ZoneID = "zone_2"

	for _, a := range []models.Alert{pending, later, done, exhausted, other} {
		require.NoError(t, m.CreateAlert(ctx, a))
	}

	due, err := m.ListPendingEscalations(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "pending", due[0].ID)

	open, err := m.ListOpenAlerts(ctx)
	require.NoError(t, err)
	var ids []string
	for _, a := range open {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"pending", "later", "other"}, ids)

	zone1, err := m.ListAlerts(ctx, models.AlertFilter{ZoneID: "zone_1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, zone1, 2)
	assert.Equal(t, "exhausted", zone1[0].ID, "newest first")

	page, err := m.ListAlerts(ctx, models.AlertFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}
