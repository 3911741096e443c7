package timers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/clock"
)

func TestRunDueFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	q := New(clk)

	var fired []string
	q.Schedule("a", start.Add(3*time.Minute), func() { fired = append(fired, "third") })
	q.Schedule("b", start.Add(1*time.Minute), func() { fired = append(fired, "first") })
	q.Schedule("a", start.Add(2*time.Minute), func() { fired = append(fired, "second") })
	q.Schedule("c", start.Add(10*time.Minute), func() { fired = append(fired, "late") })

	n := q.RunDue(start.Add(5 * time.Minute))

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "second", "third"}, fired)
	assert.Equal(t, 1, q.Len())
}

func TestCancelGroupDropsOnlyThatGroup(t *testing.T) {
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	q := New(clock.NewFake(start))

	fired := 0
	q.Schedule("alert-1", start.Add(time.Minute), func() { fired++ })
	q.Schedule("alert-1", start.Add(2*time.Minute), func() { fired++ })
	q.Schedule("alert-2", start.Add(time.Minute), func() { fired++ })

	assert.Equal(t, 2, q.CancelGroup("alert-1"))
	assert.Equal(t, 0, q.Pending("alert-1"))
	q.RunDue(start.Add(time.Hour))
	assert.Equal(t, 1, fired)
}

func TestScheduleCancelFuncIsIdempotent(t *testing.T) {
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	q := New(clock.NewFake(start))

	cancel := q.Schedule("g", start, func() { t.Fatal("cancelled entry fired") })
	cancel()
	cancel()
	assert.Equal(t, 0, q.RunDue(start.Add(time.Second)))
}

func TestRunServesRealDeadlines(t *testing.T) {
	q := New(clock.Real())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var mu sync.Mutex
	fired := false
	q.Schedule("g", time.Now().Add(20*time.Millisecond), func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	}, time.Second, 5*time.Millisecond)
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	q := New(clock.Real())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Wait(ctx, "g", time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, q.Pending("g"))
}
