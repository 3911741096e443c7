package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hazard-alert-service/internal/clock"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/routing"
)

// Receipt is what a provider returns on success.
type Receipt struct {
	ProviderID string
}

// Transport delivers a rendered message to a contact over one channel.
// Any error not wrapped with Permanent is treated as retryable.
type Transport interface {
	Send(ctx context.Context, contact models.Contact, channel models.ChannelKind, msg models.Message) (Receipt, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, contact models.Contact, channel models.ChannelKind, msg models.Message) (Receipt, error)

func (f TransportFunc) Send(ctx context.Context, contact models.Contact, channel models.ChannelKind, msg models.Message) (Receipt, error) {
	return f(ctx, contact, channel, msg)
}

// AttemptRecorder persists the delivery audit trail. Earlier attempts seed the
// numbering so an alert resumed after a restart continues where it stopped.
type AttemptRecorder interface {
	AppendDeliveryAttempt(ctx context.Context, attempt models.DeliveryAttempt) error
	ListDeliveryAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error)
}

// Waiter sleeps between attempts. group is the alert id so that a cancel can
// drop every pending wait of the alert at once.
type Waiter interface {
	Wait(ctx context.Context, group string, d time.Duration) error
}

// WaiterFunc adapts a function to Waiter.
type WaiterFunc func(ctx context.Context, group string, d time.Duration) error

func (f WaiterFunc) Wait(ctx context.Context, group string, d time.Duration) error {
	return f(ctx, group, d)
}

// Observer receives per-attempt results, e.g. for metrics.
type Observer interface {
	ObserveAttempt(channel models.ChannelKind, outcome models.DeliveryOutcome, permanent bool, took time.Duration)
}

// Policy bounds retries and per-attempt time.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeouts    map[models.ChannelKind]time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Timeouts: map[models.ChannelKind]time.Duration{
			models.ChannelEmail: 10 * time.Second,
			models.ChannelPush:  10 * time.Second,
			models.ChannelSMS:   5 * time.Second,
			models.ChannelVoice: 5 * time.Second,
		},
	}
}

// Backoff returns the wait after the given failed attempt: base × 2^(attempt-1), capped.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Timeout returns the per-attempt timeout for channel.
func (p Policy) Timeout(channel models.ChannelKind) time.Duration {
	if t, ok := p.Timeouts[channel]; ok && t > 0 {
		return t
	}
	return 10 * time.Second
}

// Dispatcher attempts delivery through the registered transports.
type Dispatcher struct {
	transports map[models.ChannelKind]Transport
	recorder   AttemptRecorder
	waiter     Waiter
	clock      clock.Clock
	policy     Policy
	logger     *logging.Logger
	observer   Observer
}

func New(transports map[models.ChannelKind]Transport, recorder AttemptRecorder, waiter Waiter, clk clock.Clock, policy Policy, logger *logging.Logger) *Dispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Dispatcher{
		transports: transports,
		recorder:   recorder,
		waiter:     waiter,
		clock:      clk,
		policy:     policy,
		logger:     logger,
	}
}

// WithObserver attaches an attempt observer.
func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

// Policy returns the retry policy in use.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Deliver tries one channel up to MaxAttempts times and records every attempt.
// Attempts already recorded for the (alert, contact, channel) triple count
// against the budget and a channel delivered at the alert's current level is
// not sent again. Cancelling ctx stops pending retries; an attempt already in
// flight is still recorded.
func (d *Dispatcher) Deliver(ctx context.Context, alert models.Alert, contact models.Contact, channel models.ChannelKind, msg models.Message) models.DeliveryOutcome {
	log := d.logger.ForAlert(alert.ID).WithField("contact_id", contact.ID).WithField("channel", channel)
	prior := d.history(ctx, alert, contact, channel)
	switch {
	case prior.delivered:
		log.Infof("Already delivered at level %d, not sending again", alert.EscalationLevel)
		return models.OutcomeDelivered
	case prior.permanent:
		log.Warnf("Channel failed permanently earlier, not sending again")
		return models.OutcomeFailed
	case prior.used >= d.policy.MaxAttempts:
		log.Warnf("All %d attempts already used", d.policy.MaxAttempts)
		return models.OutcomeFailed
	}

	transport, ok := d.transports[channel]
	if !ok {
		d.record(ctx, alert, contact, channel, prior.used+1, nil, Permanent("no_transport", fmt.Errorf("%w: %s", ErrNoTransport, channel)))
		log.Errorf("No transport for channel %s", channel)
		return models.OutcomeFailed
	}

	for attempt := prior.used + 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > prior.used+1 {
			wait := d.policy.Backoff(attempt - 1)
			if err := d.waiter.Wait(ctx, alert.ID, wait); err != nil {
				log.Infof("Retries stopped before attempt %d: %v", attempt, err)
				return models.OutcomeFailed
			}
		}
		if ctx.Err() != nil {
			log.Infof("Delivery cancelled before attempt %d", attempt)
			return models.OutcomeFailed
		}

		started := d.clock.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, d.policy.Timeout(channel))
		receipt, err := transport.Send(attemptCtx, contact, channel, msg)
		cancel()
		took := d.clock.Now().Sub(started)

		d.record(ctx, alert, contact, channel, attempt, &receipt, err)
		permanent := err != nil && IsPermanent(err)
		if d.observer != nil {
			outcome := models.OutcomeDelivered
			if err != nil {
				outcome = models.OutcomeFailed
			}
			d.observer.ObserveAttempt(channel, outcome, permanent, took)
		}

		if err == nil {
			log.Infof("Delivered on attempt %d/%d", attempt, d.policy.MaxAttempts)
			return models.OutcomeDelivered
		}
		if permanent {
			log.Warnf("Permanent failure on attempt %d, not retrying: %v", attempt, err)
			return models.OutcomeFailed
		}
		log.Warnf("Attempt %d/%d failed: %v", attempt, d.policy.MaxAttempts, err)
	}
	log.Errorf("Channel exhausted after %d attempts", d.policy.MaxAttempts)
	return models.OutcomeFailed
}

type priorAttempts struct {
	used      int
	delivered bool
	permanent bool
}

// history summarises the recorded attempts of one (alert, contact, channel) triple.
func (d *Dispatcher) history(ctx context.Context, alert models.Alert, contact models.Contact, channel models.ChannelKind) priorAttempts {
	var prior priorAttempts
	attempts, err := d.recorder.ListDeliveryAttempts(ctx, alert.ID)
	if err != nil {
		d.logger.ForAlert(alert.ID).Warnf("ListDeliveryAttempts failed, numbering from 1: %v", err)
		return prior
	}
	for _, a := range attempts {
		if a.ContactID != contact.ID || a.Channel != channel {
			continue
		}
		if a.AttemptNumber > prior.used {
			prior.used = a.AttemptNumber
		}
		if a.Outcome == models.OutcomeDelivered && a.EscalationLevel == alert.EscalationLevel {
			prior.delivered = true
		}
		if a.Outcome == models.OutcomeFailed && a.Permanent {
			prior.permanent = true
		}
	}
	return prior
}

func (d *Dispatcher) record(ctx context.Context, alert models.Alert, contact models.Contact, channel models.ChannelKind, attempt int, receipt *Receipt, err error) {
	rec := models.DeliveryAttempt{
		ID:              uuid.NewString(),
		AlertID:         alert.ID,
		ContactID:       contact.ID,
		Channel:         channel,
		AttemptNumber:   attempt,
		Outcome:         models.OutcomeDelivered,
		EscalationLevel: alert.EscalationLevel,
		Timestamp:       d.clock.Now(),
	}
	if receipt != nil {
		rec.ProviderID = receipt.ProviderID
	}
	if err != nil {
		rec.Outcome = models.OutcomeFailed
		rec.Permanent = IsPermanent(err)
		rec.ErrorCode = ErrorCode(err)
		rec.Error = err.Error()
	}
	// The audit record outlives a cancelled alert context.
	if rerr := d.recorder.AppendDeliveryAttempt(context.WithoutCancel(ctx), rec); rerr != nil {
		d.logger.ForAlert(alert.ID).Errorf("AppendDeliveryAttempt failed: %v", rerr)
	}
}

// ContactResult summarises one recipient's plan.
type ContactResult struct {
	ContactID string
	Delivered []models.ChannelKind
	Failed    []models.ChannelKind
}

// DeliverPlan runs a recipient's channels in order. Redundant severities try
// every channel; routine severities stop at the first delivered channel.
// onDelivered fires once per delivered channel as soon as it succeeds.
func (d *Dispatcher) DeliverPlan(ctx context.Context, alert models.Alert, plan routing.ContactPlan, msg models.Message, onDelivered func(models.ChannelKind)) ContactResult {
	res := ContactResult{ContactID: plan.Contact.ID}
	for _, ch := range plan.Channels {
		if ctx.Err() != nil {
			break
		}
		if d.Deliver(ctx, alert, plan.Contact, ch, msg) == models.OutcomeDelivered {
			res.Delivered = append(res.Delivered, ch)
			if onDelivered != nil {
				onDelivered(ch)
			}
			if !alert.Severity.Redundant() {
				break
			}
			continue
		}
		res.Failed = append(res.Failed, ch)
	}
	return res
}

// SendTest runs a plan with a single attempt per channel and keeps the
// attempts out of the audit trail. Every channel of the plan is tried; the
// returned attempts carry each channel's outcome.
func (d *Dispatcher) SendTest(ctx context.Context, alert models.Alert, plan routing.ContactPlan, msg models.Message) []models.DeliveryAttempt {
	buf := &attemptBuffer{}
	trial := *d
	trial.recorder = buf
	trial.observer = nil
	trial.policy.MaxAttempts = 1
	for _, ch := range plan.Channels {
		if ctx.Err() != nil {
			break
		}
		trial.Deliver(ctx, alert, plan.Contact, ch, msg)
	}
	return buf.list()
}

// attemptBuffer keeps attempts in memory.
type attemptBuffer struct {
	mu       sync.Mutex
	attempts []models.DeliveryAttempt
}

func (b *attemptBuffer) AppendDeliveryAttempt(_ context.Context, a models.DeliveryAttempt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = append(b.attempts, a)
	return nil
}

func (b *attemptBuffer) ListDeliveryAttempts(_ context.Context, alertID string) ([]models.DeliveryAttempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.DeliveryAttempt
	for _, a := range b.attempts {
		if a.AlertID == alertID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (b *attemptBuffer) list() []models.DeliveryAttempt {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.DeliveryAttempt(nil), b.attempts...)
}
