package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/store"
	"hazard-alert-service/internal/timers"
)

// Handler receives fired timers. Each call runs on its own goroutine, started
// through the scheduler's spawner.
type Handler interface {
	HandleTimeout(alertID string, level int)
	HandleRecheck(alertID string)
}

type timer struct {
	token  uint64
	cancel func()
}

type armed struct {
	deadline *timer
	recheck  *timer
}

// Scheduler keeps at most one escalation deadline and one held re-check per
// alert in the shared timer queue. Timers are grouped by alert id.
type Scheduler struct {
	queue   *timers.Queue
	handler Handler
	spawn   func(func())

	mu    sync.Mutex
	seq   uint64
	armed map[string]*armed
}

func NewScheduler(queue *timers.Queue, handler Handler) *Scheduler {
	return &Scheduler{
		queue:   queue,
		handler: handler,
		spawn:   func(fn func()) { go fn() },
		armed:   make(map[string]*armed),
	}
}

// WithSpawner replaces the way handler calls are started, e.g. to count them
// in a WaitGroup or drop them after shutdown.
func (s *Scheduler) WithSpawner(spawn func(func())) *Scheduler {
	if spawn != nil {
		s.spawn = spawn
	}
	return s
}

// Arm (re)arms the acknowledgement deadline of an AwaitingAck alert.
func (s *Scheduler) Arm(a models.Alert) error {
	if a.Status != models.StatusAwaitingAck || a.EscalationDeadline == nil {
		return fmt.Errorf("alert %s is %s without a deadline, nothing to arm", a.ID, a.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotLocked(a.ID)
	if slot.deadline != nil {
		slot.deadline.cancel()
	}
	s.seq++
	id, level, token := a.ID, a.EscalationLevel, s.seq
	slot.deadline = &timer{token: token}
	slot.deadline.cancel = s.queue.Schedule(id, *a.EscalationDeadline, func() {
		s.fired(id, token)
		s.spawn(func() { s.handler.HandleTimeout(id, level) })
	})
	return nil
}

// Disarm drops the pending deadline, if any.
func (s *Scheduler) Disarm(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.armed[alertID]; ok && slot.deadline != nil {
		slot.deadline.cancel()
		slot.deadline = nil
		s.gcLocked(alertID, slot)
	}
}

// ScheduleRecheck replaces the held re-check of an alert.
func (s *Scheduler) ScheduleRecheck(alertID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotLocked(alertID)
	if slot.recheck != nil {
		slot.recheck.cancel()
	}
	s.seq++
	token := s.seq
	slot.recheck = &timer{token: token}
	slot.recheck.cancel = s.queue.Schedule(alertID, at, func() {
		s.fired(alertID, token)
		s.spawn(func() { s.handler.HandleRecheck(alertID) })
	})
}

// Release drops every timer of the alert, including pending delivery backoffs.
func (s *Scheduler) Release(alertID string) int {
	s.mu.Lock()
	delete(s.armed, alertID)
	s.mu.Unlock()
	return s.queue.CancelGroup(alertID)
}

// Armed reports whether the alert has a pending acknowledgement deadline.
func (s *Scheduler) Armed(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.armed[alertID]
	return ok && slot.deadline != nil
}

// Recover re-arms every AwaitingAck alert from the store. Deadlines already in
// the past fire on the next queue tick.
func (s *Scheduler) Recover(ctx context.Context, alerts store.AlertStore) (int, error) {
	open, err := alerts.ListOpenAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open alerts: %w", err)
	}
	n := 0
	for _, a := range open {
		if a.Status != models.StatusAwaitingAck || a.EscalationDeadline == nil {
			continue
		}
		if err := s.Arm(a); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Sweep fires timeouts for overdue alerts that have no armed deadline, for
// example ones written by another instance.
func (s *Scheduler) Sweep(ctx context.Context, alerts store.AlertStore, now time.Time) (int, error) {
	due, err := alerts.ListPendingEscalations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending escalations: %w", err)
	}
	n := 0
	for _, a := range due {
		if s.Armed(a.ID) {
			continue
		}
		id, level := a.ID, a.EscalationLevel
		s.spawn(func() { s.handler.HandleTimeout(id, level) })
		n++
	}
	return n, nil
}

func (s *Scheduler) slotLocked(alertID string) *armed {
	slot, ok := s.armed[alertID]
	if !ok {
		slot = &armed{}
		s.armed[alertID] = slot
	}
	return slot
}

// fired forgets a timer that ran, unless it was already replaced.
func (s *Scheduler) fired(alertID string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.armed[alertID]
	if !ok {
		return
	}
	if slot.deadline != nil && slot.deadline.token == token {
		slot.deadline = nil
	}
	if slot.recheck != nil && slot.recheck.token == token {
		slot.recheck = nil
	}
	s.gcLocked(alertID, slot)
}

func (s *Scheduler) gcLocked(alertID string, slot *armed) {
	if slot.deadline == nil && slot.recheck == nil {
		delete(s.armed, alertID)
	}
}
