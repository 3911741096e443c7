// Package escalation holds the alert lifecycle state machine and the timers that drive it.
package escalation

import (
	"fmt"
	"time"

	"hazard-alert-service/internal/models"
)

// DefaultMaxDepth is the number of escalation levels above the primary one.
const DefaultMaxDepth = 2

type EventKind int

const (
	EventDispatch EventKind = iota + 1
	EventDelivered
	EventSuppressed
	EventHeld
	EventSignalCleared
	EventDeliveryExhausted
	EventTimeout
	EventAcknowledge
	EventCancel
)

var eventNames = map[EventKind]string{
	EventDispatch:          "dispatch",
	EventDelivered:         "delivered",
	EventSuppressed:        "suppressed",
	EventHeld:              "held",
	EventSignalCleared:     "signal_cleared",
	EventDeliveryExhausted: "delivery_exhausted",
	EventTimeout:           "timeout",
	EventAcknowledge:       "acknowledge",
	EventCancel:            "cancel",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is something that happened to an alert.
type Event struct {
	Kind EventKind
	At   time.Time
	// Delay is the acknowledgement window armed on EventDelivered.
	Delay time.Duration
	// Level is the escalation level a timeout was armed for; stale timeouts are ignored.
	Level int
	// AutoEscalation reports whether the alert's zone escalates to backups.
	AutoEscalation bool
	By             string
	Reason         string
}

// Machine is the pure transition function. It never performs I/O.
type Machine struct {
	MaxDepth int
}

func NewMachine(maxDepth int) Machine {
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}
	return Machine{MaxDepth: maxDepth}
}

// Next returns the change the event causes. ok is false when the event is a
// no-op for the alert's current state; terminal alerts never change.
func (m Machine) Next(a models.Alert, ev Event) (change models.StatusChange, ok bool) {
	if a.Terminal() {
		return models.StatusChange{}, false
	}
	change = current(a, ev.At)

	switch ev.Kind {
	case EventDispatch:
		if a.Status != models.StatusNew && a.Status != models.StatusEscalated {
			return change, false
		}
		change.Status = models.StatusDispatching
		change.EscalationDeadline = nil
		change.Held = false

	case EventDelivered:
		if a.Status != models.StatusDispatching {
			return change, false
		}
		deadline := ev.At.Add(ev.Delay)
		change.Status = models.StatusAwaitingAck
		change.EscalationDeadline = &deadline
		change.Held = false

	case EventSuppressed:
		if a.Status != models.StatusDispatching {
			return change, false
		}
		change.Status = models.StatusAutoResolved
		change.Held = false
		change.Reason = reason(ev.Reason, "no recipients in the active schedule")

	case EventHeld:
		if a.Status != models.StatusDispatching || a.Held {
			return change, false
		}
		change.Held = true
		change.Reason = reason(ev.Reason, "held until a schedule window delivers it")

	case EventSignalCleared:
		if a.Status != models.StatusDispatching || !a.Held {
			return change, false
		}
		change.Status = models.StatusAutoResolved
		change.Held = false
		change.Reason = reason(ev.Reason, "signal dropped below threshold while held")

	case EventDeliveryExhausted:
		if a.Status != models.StatusDispatching {
			return change, false
		}
		if !ev.AutoEscalation {
			change.Status = models.StatusEscalated
			change.EscalationDeadline = nil
			change.Held = false
			change.Exhausted = true
			change.Reason = reason(ev.Reason, "every delivery attempt failed; auto-escalation is disabled for the zone")
			return change, true
		}
		m.escalate(a, &change, reason(ev.Reason, "every delivery attempt failed"))

	case EventTimeout:
		if a.Status != models.StatusAwaitingAck || ev.Level != a.EscalationLevel {
			return change, false
		}
		if !ev.AutoEscalation {
			change.Status = models.StatusEscalated
			change.EscalationDeadline = nil
			change.Exhausted = true
			change.Reason = reason(ev.Reason, "not acknowledged in time; auto-escalation is disabled for the zone")
			return change, true
		}
		m.escalate(a, &change, reason(ev.Reason, "not acknowledged in time"))

	case EventAcknowledge:
		if a.Status != models.StatusAwaitingAck {
			return change, false
		}
		by, at := ev.By, ev.At
		change.Status = models.StatusAcknowledged
		change.AcknowledgedBy = &by
		change.AcknowledgedAt = &at
		change.EscalationDeadline = nil

	case EventCancel:
		change.Status = models.StatusCancelled
		change.EscalationDeadline = nil
		change.Held = false
		change.Reason = reason(ev.Reason, "cancelled")

	default:
		return change, false
	}
	return change, true
}

func (m Machine) escalate(a models.Alert, change *models.StatusChange, why string) {
	change.Status = models.StatusEscalated
	change.EscalationDeadline = nil
	change.Held = false
	change.Reason = why
	if a.EscalationLevel >= m.MaxDepth {
		change.Exhausted = true
		change.Reason = why + "; escalation depth exhausted"
		return
	}
	change.EscalationLevel = a.EscalationLevel + 1
}

func current(a models.Alert, at time.Time) models.StatusChange {
	return models.StatusChange{
		Status:             a.Status,
		EscalationLevel:    a.EscalationLevel,
		EscalationDeadline: a.EscalationDeadline,
		Held:               a.Held,
		Exhausted:          a.Exhausted,
		At:                 at,
	}
}

func reason(given, fallback string) string {
	if given != "" {
		return given
	}
	return fallback
}
