package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hazard-alert-service/internal/clock"
	"hazard-alert-service/internal/dispatch"
	"hazard-alert-service/internal/escalation"
	"hazard-alert-service/internal/keylock"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/routing"
	"hazard-alert-service/internal/schedule"
	"hazard-alert-service/internal/snapshot"
	"hazard-alert-service/internal/store"
	"hazard-alert-service/internal/timers"
	"hazard-alert-service/internal/utils"
)

var (
	ErrQueueFull   = errors.New("signal queue is full")
	ErrStaleSignal = errors.New("signal is older than the allowed skew")
	ErrUnknownZone = errors.New("unknown zone")
	ErrNoSnapshot  = errors.New("configuration not loaded")
	ErrStopped     = errors.New("service stopped")
)

// casRetryAttempts bounds re-reads when a compare-and-set loses a race.
const casRetryAttempts = 5

// Snapshots hands out the current configuration.
type Snapshots interface {
	Current() *snapshot.Snapshot
}

// Publisher receives every committed alert change, e.g. the live feed.
type Publisher interface {
	PublishAlert(alert models.Alert)
}

// Observer receives engine events for metrics.
type Observer interface {
	SignalDropped(reason string)
	AlertCreated(severity models.Severity)
	Transition(from, to models.AlertStatus)
}

// Deps are the collaborators of the Service.
type Deps struct {
	Store      store.AlertStore
	Snapshots  Snapshots
	Resolver   *schedule.Resolver
	Router     *routing.Router
	Dispatcher *dispatch.Dispatcher
	Queue      *timers.Queue
	Clock      clock.Clock
	Logger     *logging.Logger
}

// Options size the worker pools and bound engine timing.
type Options struct {
	QueueSize       int
	MaxWorkers      int
	DeliveryWorkers int
	MaxDepth        int
	SignalMaxSkew   time.Duration
	HeldRecheck     time.Duration
	SweepInterval   time.Duration
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 500
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 10
	}
	if o.DeliveryWorkers <= 0 {
		o.DeliveryWorkers = 20
	}
	if o.SignalMaxSkew <= 0 {
		o.SignalMaxSkew = 5 * time.Minute
	}
	if o.HeldRecheck <= 0 {
		o.HeldRecheck = time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
}

// round is one dispatch of an alert to one route (primary or backup).
type round struct {
	alertID   string
	level     int
	delay     time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	pending   int32
	delivered atomic.Bool
}

type deliveryJob struct {
	round *round
	alert models.Alert
	plan  routing.ContactPlan
	msg   models.Message
}

// Service turns signals into alerts and drives them through delivery and escalation.
type Service struct {
	store      store.AlertStore
	snapshots  Snapshots
	resolver   *schedule.Resolver
	router     *routing.Router
	dispatcher *dispatch.Dispatcher
	queue      *timers.Queue
	scheduler  *escalation.Scheduler
	machine    escalation.Machine
	clock      clock.Clock
	logger     *logging.Logger
	locks      *keylock.Map
	opts       Options

	signals chan models.Signal
	jobs    chan deliveryJob
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup

	runMu   sync.Mutex
	stopped bool

	mu         sync.Mutex
	latest     map[string]time.Time
	rounds     map[string]*round
	publishers []Publisher
	observer   Observer
}

// New constructs the engine. Call Start to launch its goroutines.
func New(deps Deps, opts Options) *Service {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		store:      deps.Store,
		snapshots:  deps.Snapshots,
		resolver:   deps.Resolver,
		router:     deps.Router,
		dispatcher: deps.Dispatcher,
		queue:      deps.Queue,
		machine:    escalation.NewMachine(opts.MaxDepth),
		clock:      deps.Clock,
		logger:     deps.Logger,
		locks:      keylock.New(),
		opts:       opts,
		signals:    make(chan models.Signal, opts.QueueSize),
		jobs:       make(chan deliveryJob, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		latest:     make(map[string]time.Time),
		rounds:     make(map[string]*round),
	}
	svc.scheduler = escalation.NewScheduler(deps.Queue, svc).WithSpawner(svc.spawn)
	return svc
}

// Subscribe adds a publisher for committed alert changes. Call before Start.
func (s *Service) Subscribe(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// SetObserver attaches metrics. Call before Start.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Start launches the ingest pool, the delivery pool, the timer loop and the
// pending-escalation sweep.
func (s *Service) Start(wg *sync.WaitGroup) {
	s.runMu.Lock()
	s.wg = wg
	s.runMu.Unlock()
	for i := 0; i < s.opts.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.ingestWorker(i)
	}
	for i := 0; i < s.opts.DeliveryWorkers; i++ {
		s.wg.Add(1)
		go s.deliveryWorker(i)
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.queue.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop()
	}()
}

// Stop cancels every worker and in-flight delivery. Work started after Stop
// is dropped.
func (s *Service) Stop() {
	s.runMu.Lock()
	s.stopped = true
	s.runMu.Unlock()
	s.cancel()
}

// spawn runs fn on a goroutine counted in the service WaitGroup so shutdown
// waits for it before the store closes.
func (s *Service) spawn(fn func()) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopped {
		return
	}
	if s.wg == nil {
		go fn()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Recover rebuilds timers and resumes interrupted alerts after a restart.
func (s *Service) Recover(ctx context.Context) error {
	armed, err := s.scheduler.Recover(ctx, s.store)
	if err != nil {
		return err
	}
	open, err := s.store.ListOpenAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open alerts: %w", err)
	}
	resumed := 0
	for _, a := range open {
		switch {
		case a.Status == models.StatusAwaitingAck:
		case a.Status == models.StatusDispatching && a.Held:
			s.scheduler.ScheduleRecheck(a.ID, s.clock.Now())
			resumed++
		default:
			id := a.ID
			if err := s.withAlert(id, func() ([]deliveryJob, error) { return s.resumeLocked(ctx, id) }); err != nil {
				s.logger.ForAlert(id).Errorf("Failed to resume alert: %v", err)
				continue
			}
			resumed++
		}
	}
	s.logger.Infof("Recovered %d escalation timers, resumed %d alerts", armed, resumed)
	return nil
}

// QueueSignal enqueues a signal without blocking; a full queue drops it.
func (s *Service) QueueSignal(sig models.Signal) error {
	select {
	case s.signals <- sig:
		s.logger.Debugf("Queued signal: %s=%v", sig.Key(), sig.Value)
		return nil
	default:
		s.logger.Errorf("Queue full, dropping signal: %s", sig.Key())
		s.dropped("queue_full")
		return ErrQueueFull
	}
}

// SubmitSignal enqueues a signal, waiting for room until ctx is done.
func (s *Service) SubmitSignal(ctx context.Context, sig models.Signal) error {
	select {
	case s.signals <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

func (s *Service) ingestWorker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Ingest worker %d stopped", id)
			return
		case sig := <-s.signals:
			if _, err := s.ProcessSignal(s.ctx, sig); err != nil {
				s.logger.Warnf("Signal %s dropped: %v", sig.Key(), err)
			}
		}
	}
}

func (s *Service) deliveryWorker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Delivery worker %d stopped", id)
			return
		case job := <-s.jobs:
			s.deliver(job)
		}
	}
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.scheduler.Sweep(s.ctx, s.store, s.clock.Now()); err != nil {
				s.logger.Errorf("Escalation sweep failed: %v", err)
			} else if n > 0 {
				s.logger.Warnf("Escalation sweep fired %d unarmed deadlines", n)
			}
		}
	}
}

// ProcessSignal classifies a signal and, if it crosses a threshold, creates
// and dispatches an alert. It returns the new alert, or nil when none was created.
func (s *Service) ProcessSignal(ctx context.Context, sig models.Signal) (*models.Alert, error) {
	if err := sig.Validate(); err != nil {
		s.dropped("invalid")
		return nil, err
	}
	if !s.observe(sig) {
		s.dropped("stale")
		return nil, fmt.Errorf("%w: %s observed at %s", ErrStaleSignal, sig.Key(), sig.ObservedAt.Format(time.RFC3339))
	}
	snap := s.snapshots.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	zone, ok := snap.Zone(sig.ZoneID)
	if !ok {
		s.dropped("unknown_zone")
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, sig.ZoneID)
	}
	if !zone.MonitoringEnabled {
		s.dropped("monitoring_disabled")
		return nil, nil
	}
	severity, err := snap.Evaluator().Classify(sig)
	if err != nil {
		s.dropped("unknown_parameter")
		s.logger.Errorf("Unknown parameter kind %q for zone %s", sig.ParameterKind, sig.ZoneID)
		return nil, err
	}
	if severity == models.SeverityNone {
		s.clearHeld(ctx, sig)
		return nil, nil
	}
	return s.raise(ctx, sig, severity)
}

// observe tracks the newest observation per stream and rejects signals that
// lag it by more than the allowed skew.
func (s *Service) observe(sig models.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	newest, ok := s.latest[sig.Key()]
	if ok && sig.ObservedAt.Before(newest.Add(-s.opts.SignalMaxSkew)) {
		return false
	}
	if !ok || sig.ObservedAt.After(newest) {
		s.latest[sig.Key()] = sig.ObservedAt
	}
	return true
}

func (s *Service) raise(ctx context.Context, sig models.Signal, severity models.Severity) (*models.Alert, error) {
	unlock := s.locks.Lock("stream:" + sig.Key())
	defer unlock()

	open, err := s.openForStream(ctx, sig.Key())
	if err != nil {
		return nil, err
	}
	for _, a := range open {
		if a.Severity >= severity {
			s.logger.ForAlert(a.ID).Debugf("Signal %s=%v folded into open %s alert", sig.Key(), sig.Value, a.Severity)
			return nil, nil
		}
	}

	now := s.clock.Now()
	alert := models.Alert{
		ID:            uuid.NewString(),
		ZoneID:        sig.ZoneID,
		ParameterKind: sig.ParameterKind,
		Severity:      severity,
		Value:         sig.Value,
		ObservedAt:    sig.ObservedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        models.StatusNew,
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	s.logger.ForAlert(alert.ID).Infof("Created %s alert for %s (value %.2f)", severity, sig.Key(), sig.Value)
	if s.observer != nil {
		s.observer.AlertCreated(severity)
	}
	s.publish(alert)

	if err := s.withAlert(alert.ID, func() ([]deliveryJob, error) { return s.resumeLocked(ctx, alert.ID) }); err != nil {
		s.logger.ForAlert(alert.ID).Errorf("Dispatch failed: %v", err)
	}
	current, err := s.store.GetAlert(ctx, alert.ID)
	if err != nil {
		return &alert, nil
	}
	return &current, nil
}

func (s *Service) openForStream(ctx context.Context, key string) ([]models.Alert, error) {
	open, err := s.store.ListOpenAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	var out []models.Alert
	for _, a := range open {
		if a.StreamKey() == key {
			out = append(out, a)
		}
	}
	return out, nil
}

// clearHeld auto-resolves held alerts of the stream once the signal is back below low.
func (s *Service) clearHeld(ctx context.Context, sig models.Signal) {
	open, err := s.openForStream(ctx, sig.Key())
	if err != nil {
		s.logger.Errorf("Held alert lookup failed for %s: %v", sig.Key(), err)
		return
	}
	for _, a := range open {
		if !a.Held {
			continue
		}
		id := a.ID
		err := s.withAlert(id, func() ([]deliveryJob, error) {
			_, _, err := s.transition(ctx, id, escalation.Event{Kind: escalation.EventSignalCleared})
			return nil, err
		})
		if err != nil {
			s.logger.ForAlert(id).Errorf("Auto-resolve failed: %v", err)
		}
	}
}

// withAlert runs fn while owning the alert and queues the delivery jobs it
// returns once the lock is released.
func (s *Service) withAlert(alertID string, fn func() ([]deliveryJob, error)) error {
	unlock := s.locks.Lock(alertID)
	jobs, err := fn()
	unlock()
	if len(jobs) > 0 {
		s.spawn(func() { s.submit(jobs) })
	}
	return err
}

func (s *Service) submit(jobs []deliveryJob) {
	for _, job := range jobs {
		select {
		case s.jobs <- job:
		case <-job.round.ctx.Done():
			s.finish(job.round)
		}
	}
}

// transition applies ev to the stored alert with compare-and-set, re-reading
// on conflicts. Must be called while owning the alert.
func (s *Service) transition(ctx context.Context, alertID string, ev escalation.Event) (models.Alert, bool, error) {
	var result models.Alert
	var applied bool
	err := utils.Retry(ctx, s.logger, casRetryAttempts, 0, func(err error) bool { return errors.Is(err, store.ErrConflict) }, func() error {
		current, err := s.store.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if ev.At.IsZero() {
			ev.At = s.clock.Now()
		}
		change, ok := s.machine.Next(current, ev)
		if !ok {
			result, applied = current, false
			return nil
		}
		next, err := s.store.CompareAndSetStatus(ctx, alertID, current.Status, change)
		if err != nil {
			return err
		}
		result, applied = next, true
		s.committed(current, next, ev)
		return nil
	})
	return result, applied, err
}

// committed keeps timers and in-flight rounds in line with the new state.
func (s *Service) committed(prev, next models.Alert, ev escalation.Event) {
	log := s.logger.ForAlert(next.ID)
	if prev.Status != next.Status {
		log.Infof("Alert %s -> %s on %s (level %d)", prev.Status, next.Status, ev.Kind, next.EscalationLevel)
	} else {
		log.Infof("Alert updated on %s: %s", ev.Kind, next.Reason)
	}
	if s.observer != nil {
		s.observer.Transition(prev.Status, next.Status)
	}

	switch {
	case next.Terminal():
		s.endRound(next.ID)
		s.scheduler.Release(next.ID)
		if next.Status == models.StatusEscalated {
			log.Errorf("Escalation exhausted at level %d, manual intervention required: %s", next.EscalationLevel, next.Reason)
		}
	case next.Status == models.StatusAwaitingAck:
		if err := s.scheduler.Arm(next); err != nil {
			log.Errorf("Failed to arm escalation deadline: %v", err)
		}
	case prev.Status == models.StatusAwaitingAck:
		s.scheduler.Disarm(next.ID)
	}
	s.publish(next)
}

// resumeLocked moves an alert into Dispatching when needed and plans its route.
func (s *Service) resumeLocked(ctx context.Context, alertID string) ([]deliveryJob, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.StatusNew || alert.Status == models.StatusEscalated {
		alert, _, err = s.transition(ctx, alertID, escalation.Event{Kind: escalation.EventDispatch})
		if err != nil {
			return nil, err
		}
	}
	if alert.Status != models.StatusDispatching {
		return nil, nil
	}
	return s.planLocked(ctx, alert)
}

func (s *Service) planLocked(ctx context.Context, alert models.Alert) ([]deliveryJob, error) {
	log := s.logger.ForAlert(alert.ID)
	snap := s.snapshots.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	zone, ok := snap.Zone(alert.ZoneID)
	if !ok {
		zone = models.Zone{ID: alert.ZoneID, Name: alert.ZoneID}
	}
	now := s.clock.Now()
	profile := s.resolver.ActiveProfile(now, snap.Schedules())

	var routes []routing.Route
	if alert.EscalationLevel == 0 {
		routes = s.router.Route(alert, profile, snap.Contacts())
	} else {
		routes = s.router.RouteBackups(alert, snap.Contacts())
	}

	if len(routes) == 0 {
		return s.emptyRouteLocked(ctx, alert, zone, profile, snap)
	}

	delay := profile.Delay()
	if delay <= 0 {
		delay = s.resolver.Default().Delay()
	}
	plans := routing.Group(routes)
	r := s.startRound(alert, delay, len(plans))
	msg := render(alert, zone, s.resolver.Location())
	log.Infof("Dispatching level %d to %d contacts under profile %s", alert.EscalationLevel, len(plans), profile.Key)

	jobs := make([]deliveryJob, 0, len(plans))
	for _, p := range plans {
		jobs = append(jobs, deliveryJob{round: r, alert: alert, plan: p, msg: msg})
	}
	return jobs, nil
}

func (s *Service) emptyRouteLocked(ctx context.Context, alert models.Alert, zone models.Zone, profile models.ScheduleProfile, snap *snapshot.Snapshot) ([]deliveryJob, error) {
	log := s.logger.ForAlert(alert.ID)

	if alert.EscalationLevel > 0 {
		return s.exhaustLocked(ctx, alert.ID, true, "no backup contacts available")
	}

	severe := alert.Severity.Redundant() && zone.AutoEscalationEnabled
	if severe && len(s.router.Recipients(alert, snap.Contacts())) == 0 {
		log.Errorf("Zone %s has no primary contacts for a %s alert, escalating to backups", zone.ID, alert.Severity)
		return s.exhaustLocked(ctx, alert.ID, true, "no primary contacts for the zone")
	}

	if !severe {
		_, _, err := s.transition(ctx, alert.ID, escalation.Event{
			Kind:   escalation.EventSuppressed,
			Reason: fmt.Sprintf("no recipients under profile %s", profile.Key),
		})
		return nil, err
	}

	if _, _, err := s.transition(ctx, alert.ID, escalation.Event{
		Kind:   escalation.EventHeld,
		Reason: fmt.Sprintf("no recipients under profile %s", profile.Key),
	}); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	at := now.Add(s.opts.HeldRecheck)
	if boundary, ok := s.resolver.NextBoundary(now, snap.Schedules()); ok && boundary.Before(at) {
		at = boundary
	}
	s.scheduler.ScheduleRecheck(alert.ID, at)
	log.Warnf("Severe alert held, re-checking at %s", at.Format(time.RFC3339))
	return nil, nil
}

// exhaustLocked records that the current route delivered nothing. With
// auto-escalation the alert moves on to its backups, otherwise it is surfaced.
func (s *Service) exhaustLocked(ctx context.Context, alertID string, auto bool, why string) ([]deliveryJob, error) {
	next, applied, err := s.transition(ctx, alertID, escalation.Event{
		Kind:           escalation.EventDeliveryExhausted,
		AutoEscalation: auto,
		Reason:         why,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		s.logger.ForAlert(alertID).Errorf("Delivery exhausted but alert stays %s", next.Status)
		return nil, nil
	}
	if next.Status == models.StatusEscalated && !next.Exhausted {
		return s.resumeLocked(ctx, alertID)
	}
	return nil, nil
}

func (s *Service) startRound(alert models.Alert, delay time.Duration, contacts int) *round {
	ctx, cancel := context.WithCancel(s.ctx)
	r := &round{
		alertID: alert.ID,
		level:   alert.EscalationLevel,
		delay:   delay,
		ctx:     ctx,
		cancel:  cancel,
		pending: int32(contacts),
	}
	s.mu.Lock()
	if prev, ok := s.rounds[alert.ID]; ok {
		prev.cancel()
	}
	s.rounds[alert.ID] = r
	s.mu.Unlock()
	return r
}

// endRound stops pending retries of the alert's current round.
func (s *Service) endRound(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rounds[alertID]; ok {
		r.cancel()
		delete(s.rounds, alertID)
	}
}

func (s *Service) currentRound(r *round) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[r.alertID] == r && r.ctx.Err() == nil
}

func (s *Service) deliver(job deliveryJob) {
	r := job.round
	if r.ctx.Err() == nil {
		res := s.dispatcher.DeliverPlan(r.ctx, job.alert, job.plan, job.msg, func(models.ChannelKind) {
			r.delivered.Store(true)
			s.delivered(r)
		})
		if len(res.Failed) > 0 && len(res.Delivered) == 0 {
			s.logger.ForAlert(r.alertID).Warnf("Every channel failed for contact %s: %v", res.ContactID, res.Failed)
		}
	}
	s.finish(r)
}

func (s *Service) delivered(r *round) {
	err := s.withAlert(r.alertID, func() ([]deliveryJob, error) {
		if !s.currentRound(r) {
			return nil, nil
		}
		_, _, err := s.transition(r.ctx, r.alertID, escalation.Event{Kind: escalation.EventDelivered, Delay: r.delay})
		return nil, err
	})
	if err != nil && r.ctx.Err() == nil {
		s.logger.ForAlert(r.alertID).Errorf("Failed to record delivery: %v", err)
	}
}

// finish counts down the round; when the last contact failed everywhere the
// alert escalates if its zone allows it.
func (s *Service) finish(r *round) {
	if atomic.AddInt32(&r.pending, -1) != 0 || r.delivered.Load() {
		return
	}
	err := s.withAlert(r.alertID, func() ([]deliveryJob, error) {
		if !s.currentRound(r) {
			return nil, nil
		}
		alert, err := s.store.GetAlert(r.ctx, r.alertID)
		if err != nil {
			return nil, err
		}
		auto := false
		if snap := s.snapshots.Current(); snap != nil {
			if zone, ok := snap.Zone(alert.ZoneID); ok {
				auto = zone.AutoEscalationEnabled
			}
		}
		return s.exhaustLocked(r.ctx, r.alertID, auto, "")
	})
	if err != nil {
		s.logger.ForAlert(r.alertID).Errorf("Failed to close delivery round: %v", err)
	}
}

// HandleTimeout runs when an acknowledgement deadline passes.
func (s *Service) HandleTimeout(alertID string, level int) {
	err := s.withAlert(alertID, func() ([]deliveryJob, error) {
		alert, err := s.store.GetAlert(s.ctx, alertID)
		if err != nil {
			return nil, err
		}
		auto := false
		if snap := s.snapshots.Current(); snap != nil {
			if zone, ok := snap.Zone(alert.ZoneID); ok {
				auto = zone.AutoEscalationEnabled
			}
		}
		next, applied, err := s.transition(s.ctx, alertID, escalation.Event{Kind: escalation.EventTimeout, Level: level, AutoEscalation: auto})
		if err != nil || !applied {
			return nil, err
		}
		if next.Status == models.StatusEscalated && !next.Exhausted {
			return s.resumeLocked(s.ctx, alertID)
		}
		return nil, nil
	})
	if err != nil {
		s.logger.ForAlert(alertID).Errorf("Escalation timeout failed: %v", err)
	}
}

// HandleRecheck retries the route of a held alert.
func (s *Service) HandleRecheck(alertID string) {
	err := s.withAlert(alertID, func() ([]deliveryJob, error) {
		alert, err := s.store.GetAlert(s.ctx, alertID)
		if err != nil {
			return nil, err
		}
		if alert.Status != models.StatusDispatching || !alert.Held {
			return nil, nil
		}
		return s.planLocked(s.ctx, alert)
	})
	if err != nil {
		s.logger.ForAlert(alertID).Errorf("Held re-check failed: %v", err)
	}
}

// Acknowledge records a human acknowledgement. It only applies to alerts
// awaiting one; repeats and late acknowledgements return applied=false.
func (s *Service) Acknowledge(ctx context.Context, alertID, by string) (models.Alert, bool, error) {
	var alert models.Alert
	var applied bool
	err := s.withAlert(alertID, func() ([]deliveryJob, error) {
		var err error
		alert, applied, err = s.transition(ctx, alertID, escalation.Event{Kind: escalation.EventAcknowledge, By: by})
		return nil, err
	})
	return alert, applied, err
}

// Cancel is the administrative override. Pending retries and timers stop at once;
// in-flight transport calls finish and are recorded but no longer move the alert.
func (s *Service) Cancel(ctx context.Context, alertID, reason string) (models.Alert, bool, error) {
	var alert models.Alert
	var applied bool
	err := s.withAlert(alertID, func() ([]deliveryJob, error) {
		var err error
		alert, applied, err = s.transition(ctx, alertID, escalation.Event{Kind: escalation.EventCancel, Reason: reason})
		return nil, err
	})
	return alert, applied, err
}

func (s *Service) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

func (s *Service) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	return s.store.ListAlerts(ctx, filter)
}

func (s *Service) ListDeliveryAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error) {
	return s.store.ListDeliveryAttempts(ctx, alertID)
}

// TestContact sends a test notification to one contact over every channel it
// has enabled. Nothing is persisted and no alert changes state.
func (s *Service) TestContact(ctx context.Context, contactID string) ([]models.DeliveryAttempt, error) {
	snap := s.snapshots.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	c, ok := snap.Contact(contactID)
	if !ok {
		return nil, fmt.Errorf("%w: contact %s", store.ErrNotFound, contactID)
	}
	zone := models.Zone{ID: models.AllZones, Name: "all zones"}
	if len(c.Zones) > 0 {
		if z, ok := snap.Zone(c.Zones[0]); ok {
			zone = z
		}
	}
	alert := s.testAlert(zone.ID)
	plan := routing.ContactPlan{Contact: c, Channels: routing.Channels(alert.Severity, c)}
	s.logger.ForAlert(alert.ID).Infof("Test send to contact %s over %v", c.ID, plan.Channels)
	return s.dispatcher.SendTest(ctx, alert, plan, renderTest(zone, c, alert.CreatedAt, s.resolver.Location())), nil
}

// TestZone sends a test notification to every primary recipient of a zone,
// whatever the active schedule.
func (s *Service) TestZone(ctx context.Context, zoneID string) ([]models.DeliveryAttempt, error) {
	snap := s.snapshots.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	zone, ok := snap.Zone(zoneID)
	if !ok {
		return nil, fmt.Errorf("%w: zone %s", store.ErrNotFound, zoneID)
	}
	alert := s.testAlert(zone.ID)
	plans := routing.Group(s.router.Recipients(alert, snap.Contacts()))
	s.logger.ForAlert(alert.ID).Infof("Test send to %d contacts of zone %s", len(plans), zone.ID)

	results := make([][]models.DeliveryAttempt, len(plans))
	var wg sync.WaitGroup
	for i, p := range plans {
		wg.Add(1)
		go func(i int, p routing.ContactPlan) {
			defer wg.Done()
			results[i] = s.dispatcher.SendTest(ctx, alert, p, renderTest(zone, p.Contact, alert.CreatedAt, s.resolver.Location()))
		}(i, p)
	}
	wg.Wait()

	out := make([]models.DeliveryAttempt, 0)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// testAlert is the synthetic, never stored alert behind a test send. Critical
// severity selects every enabled channel.
func (s *Service) testAlert(zoneID string) models.Alert {
	now := s.clock.Now()
	return models.Alert{
		ID:            "test-" + uuid.NewString(),
		ZoneID:        zoneID,
		ParameterKind: "test",
		Severity:      models.SeverityCritical,
		ObservedAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        models.StatusNew,
	}
}

// statsScanLimit bounds the alerts read for one summary.
const statsScanLimit = 10000

// Stats summarises alerts created since the given time: delivery rate over
// all attempts, acknowledgement rate over alerts that reached someone, and
// the mean time from creation to acknowledgement.
func (s *Service) Stats(ctx context.Context, since time.Time) (models.AlertStats, error) {
	stats := models.AlertStats{
		Since:      since,
		BySeverity: map[string]int{},
		ByStatus:   map[models.AlertStatus]int{},
	}
	alerts, err := s.store.ListAlerts(ctx, models.AlertFilter{Since: since, Limit: statsScanLimit})
	if err != nil {
		return stats, fmt.Errorf("failed to list alerts: %w", err)
	}
	var response time.Duration
	for _, a := range alerts {
		stats.TotalAlerts++
		stats.BySeverity[a.Severity.String()]++
		stats.ByStatus[a.Status]++

		attempts, err := s.store.ListDeliveryAttempts(ctx, a.ID)
		if err != nil {
			return stats, fmt.Errorf("failed to list delivery attempts of %s: %w", a.ID, err)
		}
		reached := false
		for _, at := range attempts {
			stats.Attempts++
			if at.Outcome == models.OutcomeDelivered {
				stats.DeliveredAttempts++
				reached = true
			}
		}
		if reached {
			stats.ReachedAlerts++
		}
		if a.Status == models.StatusAcknowledged {
			stats.AcknowledgedAlerts++
			if a.AcknowledgedAt != nil {
				response += a.AcknowledgedAt.Sub(a.CreatedAt)
			}
		}
	}
	if stats.Attempts > 0 {
		stats.DeliveryRate = float64(stats.DeliveredAttempts) / float64(stats.Attempts)
	}
	if stats.ReachedAlerts > 0 {
		stats.AcknowledgmentRate = float64(stats.AcknowledgedAlerts) / float64(stats.ReachedAlerts)
	}
	if stats.AcknowledgedAlerts > 0 {
		stats.AvgResponseSeconds = response.Seconds() / float64(stats.AcknowledgedAlerts)
	}
	return stats, nil
}

func (s *Service) publish(a models.Alert) {
	s.mu.Lock()
	pubs := s.publishers
	s.mu.Unlock()
	for _, p := range pubs {
		p.PublishAlert(a)
	}
}

func (s *Service) dropped(reason string) {
	if s.observer != nil {
		s.observer.SignalDropped(reason)
	}
}
