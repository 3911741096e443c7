package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/clock"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/store"
	"hazard-alert-service/internal/timers"
)

type recordingHandler struct {
	mu       sync.Mutex
	timeouts []string
	rechecks []string
}

func (h *recordingHandler) HandleTimeout(id string, level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeouts = append(h.timeouts, id)
}

func (h *recordingHandler) HandleRecheck(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rechecks = append(h.rechecks, id)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timeouts), len(h.rechecks)
}

func awaiting(id string, deadline time.Time) models.Alert {
	a := alertIn(models.StatusAwaitingAck)
	a.ID = id
	a.CreatedAt = now
	a.EscalationDeadline = &deadline
	return a
}

func TestArmFiresOnceAtDeadline(t *testing.T) {
	clk := clock.NewFake(now)
	q := timers.New(clk)
	h := &recordingHandler{}
	s := NewScheduler(q, h)

	require.NoError(t, s.Arm(awaiting("a1", now.Add(5*time.Minute))))
	require.NoError(t, s.Arm(awaiting("a1", now.Add(10*time.Minute))), "re-arming replaces the deadline")
	assert.Equal(t, 1, q.Pending("a1"))

	assert.Equal(t, 0, q.RunDue(clk.Advance(5*time.Minute)))
	assert.Equal(t, 1, q.RunDue(clk.Advance(5*time.Minute)))
	assert.Eventually(t, func() bool { n, _ := h.counts(); return n == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Armed("a1"))
}

func TestArmRejectsAlertsWithoutDeadline(t *testing.T) {
	s := NewScheduler(timers.New(clock.NewFake(now)), &recordingHandler{})
	assert.Error(t, s.Arm(alertIn(models.StatusDispatching)))
}

func TestDisarmAndRelease(t *testing.T) {
	clk := clock.NewFake(now)
	q := timers.New(clk)
	h := &recordingHandler{}
	s := NewScheduler(q, h)

	require.NoError(t, s.Arm(awaiting("a1", now.Add(time.Minute))))
	s.Disarm("a1")
	assert.False(t, s.Armed("a1"))

	require.NoError(t, s.Arm(awaiting("a2", now.Add(time.Minute))))
	s.ScheduleRecheck("a2", now.Add(time.Minute))
	q.Schedule("a2", now.Add(time.Minute), func() {})
	assert.Equal(t, 3, s.Release("a2"))

	assert.Equal(t, 0, q.RunDue(clk.Advance(time.Hour)))
	timeouts, rechecks := h.counts()
	assert.Zero(t, timeouts)
	assert.Zero(t, rechecks)
}

func TestRecheckFires(t *testing.T) {
	clk := clock.NewFake(now)
	q := timers.New(clk)
	h := &recordingHandler{}
	s := NewScheduler(q, h)

	s.ScheduleRecheck("held", now.Add(time.Minute))
	s.ScheduleRecheck("held", now.Add(2*time.Minute))
	assert.Equal(t, 1, q.Pending("held"))
	q.RunDue(clk.Advance(2 * time.Minute))
	assert.Eventually(t, func() bool { _, n := h.counts(); return n == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecoverRearmsAwaitingAlerts(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(now)
	q := timers.New(clk)
	h := &recordingHandler{}
	s := NewScheduler(q, h)
	st := store.NewMemory()

	require.NoError(t, st.CreateAlert(ctx, awaiting("overdue", now.Add(-time.Minute))))
	require.NoError(t, st.CreateAlert(ctx, awaiting("future", now.Add(time.Hour))))
	require.NoError(t, st.CreateAlert(ctx, alertIn(models.StatusAcknowledged)))

	n, err := s.Recover(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 1, q.RunDue(clk.Now()), "past deadlines fire immediately")
	assert.True(t, s.Armed("future"))
}

func TestSweepSkipsArmedAlerts(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(now)
	h := &recordingHandler{}
	s := NewScheduler(timers.New(clk), h)
	st := store.NewMemory()

	armedAlert := awaiting("armed", now.Add(-time.Minute))
	require.NoError(t, st.CreateAlert(ctx, armedAlert))
	require.NoError(t, st.CreateAlert(ctx, awaiting("orphan", now.Add(-time.Minute))))
	require.NoError(t, s.Arm(armedAlert))

	n, err := s.Sweep(ctx, st, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Eventually(t, func() bool { c, _ := h.counts(); return c == 1 }, time.Second, 5*time.Millisecond)
}

func TestSpawnerStartsHandlerCalls(t *testing.T) {
	clk := clock.NewFake(now)
	q := timers.New(clk)
	h := &recordingHandler{}
	var wg sync.WaitGroup
	spawned := 0
	s := NewScheduler(q, h).WithSpawner(func(fn func()) {
		spawned++
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	})

	require.NoError(t, s.Arm(awaiting("a1", now.Add(time.Minute))))
	s.ScheduleRecheck("a2", now.Add(time.Minute))
	assert.Equal(t, 2, q.RunDue(clk.Advance(time.Minute)))
	wg.Wait()

	assert.Equal(t, 2, spawned)
	timeouts, rechecks := h.counts()
	assert.Equal(t, 1, timeouts)
	assert.Equal(t, 1, rechecks)
}
