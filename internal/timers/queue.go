// Package timers keeps every pending engine deadline in one min-heap served by a single goroutine.
package timers

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"hazard-alert-service/internal/clock"
)

type entry struct {
	at    time.Time
	seq   uint64
	group string
	fn    func()
	index int
}

type deadlineHeap []*entry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue runs callbacks at their deadlines. Entries belong to a group so that
// everything scheduled for one alert can be dropped at once.
type Queue struct {
	mu     sync.Mutex
	clock  clock.Clock
	h      deadlineHeap
	groups map[string]map[uint64]*entry
	seq    uint64
	wake   chan struct{}
}

func New(clk clock.Clock) *Queue {
	return &Queue{
		clock:  clk,
		groups: make(map[string]map[uint64]*entry),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule registers fn to run at or after at. The returned func cancels it.
func (q *Queue) Schedule(group string, at time.Time, fn func()) (cancel func()) {
	q.mu.Lock()
	q.seq++
	e := &entry{at: at, seq: q.seq, group: group, fn: fn}
	heap.Push(&q.h, e)
	if q.groups[group] == nil {
		q.groups[group] = make(map[uint64]*entry)
	}
	q.groups[group][e.seq] = e
	first := q.h[0] == e
	q.mu.Unlock()

	if first {
		q.notify()
	}
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.removeLocked(e)
	}
}

// CancelGroup drops every pending entry of the group and returns how many were dropped.
func (q *Queue) CancelGroup(group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.groups[group]
	n := 0
	for _, e := range entries {
		if q.removeLocked(e) {
			n++
		}
	}
	return n
}

func (q *Queue) removeLocked(e *entry) bool {
	if e.index < 0 {
		return false
	}
	heap.Remove(&q.h, e.index)
	if g := q.groups[e.group]; g != nil {
		delete(g, e.seq)
		if len(g) == 0 {
			delete(q.groups, e.group)
		}
	}
	return true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Pending returns the number of pending entries in a group.
func (q *Queue) Pending(group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.groups[group])
}

// RunDue pops and runs every entry due at now, in deadline order. Callbacks run
// on the calling goroutine after the queue lock is released.
func (q *Queue) RunDue(now time.Time) int {
	var due []*entry
	q.mu.Lock()
	for len(q.h) > 0 && !q.h[0].at.After(now) {
		e := heap.Pop(&q.h).(*entry)
		if g := q.groups[e.group]; g != nil {
			delete(g, e.seq)
			if len(g) == 0 {
				delete(q.groups, e.group)
			}
		}
		due = append(due, e)
	}
	q.mu.Unlock()

	for _, e := range due {
		e.fn()
	}
	return len(due)
}

func (q *Queue) next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run serves the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		var timer *time.Timer
		var fire <-chan time.Time
		if at, ok := q.next(); ok {
			d := at.Sub(q.clock.Now())
			if d <= 0 {
				q.RunDue(q.clock.Now())
				continue
			}
			timer = time.NewTimer(d)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-q.wake:
		case <-fire:
			q.RunDue(q.clock.Now())
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Wait blocks for d or until ctx is done. Callers cancelling a group must also
// cancel the waiting context, otherwise the waiter only wakes on ctx.
func (q *Queue) Wait(ctx context.Context, group string, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	cancel := q.Schedule(group, q.clock.Now().Add(d), func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}
