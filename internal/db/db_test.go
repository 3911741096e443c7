package db

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/snapshot"
	"hazard-alert-service/internal/store"
)

// testDB connects to TEST_DB_DSN and skips when no database is available.
func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	d, err := New(ctx, dsn)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	require.NoError(t, d.Migrate(ctx))
	t.Cleanup(d.Close)
	return d
}

func newAlert() models.Alert {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return models.Alert{
		ID:            uuid.NewString(),
		ZoneID:        "zone_" + uuid.NewString()[:8],
		ParameterKind: "seismic",
		Severity:      models.SeverityHigh,
		Value:         4.4,
		ObservedAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        models.StatusNew,
	}
}

func TestAlertRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := newAlert()

	require.NoError(t, d.CreateAlert(ctx, a))
	assert.ErrorIs(t, d.CreateAlert(ctx, a), store.ErrExists)

	got, err := d.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Severity, got.Severity)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.True(t, a.ObservedAt.Equal(got.ObservedAt))

	_, err = d.GetAlert(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompareAndSetCommitsOnce(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := newAlert()
	a.Status = models.StatusAwaitingAck
	require.NoError(t, d.CreateAlert(ctx, a))

	by := "ops"
	at := time.Now().UTC()
	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.CompareAndSetStatus(ctx, a.ID, models.StatusAwaitingAck, models.StatusChange{
				Status: models.StatusAcknowledged, AcknowledgedBy: &by, AcknowledgedAt: &at, At: at,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		if err == nil {
			ok++
		} else if assert.ErrorIs(t, err, store.ErrConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, conflicts)

	got, err := d.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops", *got.AcknowledgedBy)
}

func TestDeliveryAttemptsAndQueries(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := newAlert()
	deadline := time.Now().UTC().Add(-time.Minute)
	a.Status = models.StatusAwaitingAck
	a.EscalationDeadline = &deadline
	require.NoError(t, d.CreateAlert(ctx, a))

	for i := 1; i <= 2; i++ {
		require.NoError(t, d.AppendDeliveryAttempt(ctx, models.DeliveryAttempt{
			AlertID: a.ID, ContactID: "c1", Channel: models.ChannelSMS, AttemptNumber: i,
			Outcome: models.OutcomeFailed, Timestamp: time.Now().UTC(),
		}))
	}
	assert.ErrorIs(t, d.AppendDeliveryAttempt(ctx, models.DeliveryAttempt{AlertID: uuid.NewString(), Timestamp: time.Now()}), store.ErrNotFound)

	attempts, err := d.ListDeliveryAttempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 2, attempts[1].AttemptNumber)

	due, err := d.ListPendingEscalations(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, ids(due), a.ID)

	open, err := d.ListOpenAlerts(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(open), a.ID)

	history, err := d.ListAlerts(ctx, models.AlertFilter{ZoneID: a.ZoneID, Status: models.StatusAwaitingAck, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(history))
}

func TestConfigRepositorySatisfiesManager(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	repo := NewConfigRepository(d)

	zone := models.Zone{ID: "zone_" + uuid.NewString()[:8], Name: "Test Slope", Priority: models.SeverityHigh, MonitoringEnabled: true}
	require.NoError(t, repo.PutThreshold(ctx, "seismic", models.ThresholdSet{Low: 2, Medium: 3, High: 4, Critical: 5}))
	require.NoError(t, repo.PutZone(ctx, zone))
	require.NoError(t, repo.PutContact(ctx, models.Contact{
		ID: "contact_" + zone.ID, Name: "Geologist", PriorityTier: models.SeverityCritical,
		Channels: models.NewChannelSet(models.ChannelEmail), Zones: []string{zone.ID},
		Status: models.ContactActive, Email: "geo@example.com",
	}))

	cfg, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, cfg.Thresholds, "seismic")
	var found bool
	for _, z := range cfg.Zones {
		found = found || z.ID == zone.ID
	}
	assert.True(t, found)

	require.NoError(t, repo.DeleteContact(ctx, "contact_"+zone.ID))
	require.NoError(t, repo.DeleteZone(ctx, zone.ID))
	assert.ErrorIs(t, repo.DeleteZone(ctx, zone.ID), snapshot.ErrNotFound)
}

func ids(alerts []models.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.ID)
	}
	return out
}

var _ store.AlertStore = (*DB)(nil)
var _ snapshot.Repository = (*ConfigRepository)(nil)
