package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/models"
)

var now = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func alertIn(status models.AlertStatus) models.Alert {
	return models.Alert{ID: "a1", ZoneID: "zone_1", Severity: models.SeverityCritical, Status: status}
}

func step(t *testing.T, m Machine, a models.Alert, ev Event) models.Alert {
	t.Helper()
	change, ok := m.Next(a, ev)
	require.True(t, ok, "%s from %s should transition", ev.Kind, a.Status)
	return a.Apply(change)
}

func TestHappyPath(t *testing.T) {
	m := NewMachine(DefaultMaxDepth)
	a := step(t, m, alertIn(models.StatusNew), Event{Kind: EventDispatch, At: now})
	assert.Equal(t, models.StatusDispatching, a.Status)

	a = step(t, m, a, Event{Kind: EventDelivered, At: now, Delay: 5 * time.Minute})
	assert.Equal(t, models.StatusAwaitingAck, a.Status)
	require.NotNil(t, a.EscalationDeadline)
	assert.Equal(t, now.Add(5*time.Minute), *a.EscalationDeadline)

	a = step(t, m, a, Event{Kind: EventAcknowledge, At: now.Add(time.Minute), By: "Dr. Sarah Chen"})
	assert.Equal(t, models.StatusAcknowledged, a.Status)
	assert.Equal(t, "Dr. Sarah Chen", *a.AcknowledgedBy)
	assert.Nil(t, a.EscalationDeadline)
	assert.True(t, a.Terminal())
}

func TestTimeoutEscalatesUntilExhausted(t *testing.T) {
	m := NewMachine(2)
	a := alertIn(models.StatusDispatching)
	for level := 0; level < 2; level++ {
		a = step(t, m, a, Event{Kind: EventDelivered, At: now, Delay: time.Minute})
		a = step(t, m, a, Event{Kind: EventTimeout, At: now, Level: level, AutoEscalation: true})
		assert.Equal(t, models.StatusEscalated, a.Status)
		assert.Equal(t, level+1, a.EscalationLevel)
		assert.False(t, a.Exhausted)
		a = step(t, m, a, Event{Kind: EventDispatch, At: now})
	}
	a = step(t, m, a, Event{Kind: EventDelivered, At: now, Delay: time.Minute})
	a = step(t, m, a, Event{Kind: EventTimeout, At: now, Level: 2, AutoEscalation: true})
	assert.Equal(t, models.StatusEscalated, a.Status)
	assert.Equal(t, 2, a.EscalationLevel)
	assert.True(t, a.Exhausted)
	assert.True(t, a.Terminal())
}

func TestStaleTimeoutIsIgnored(t *testing.T) {
	m := NewMachine(2)
	a := alertIn(models.StatusAwaitingAck)
	a.EscalationLevel = 1
	_, ok := m.Next(a, Event{Kind: EventTimeout, At: now, Level: 0})
	assert.False(t, ok)
}

func TestAcknowledgeAndTimeoutRaceCommitsOne(t *testing.T) {
	m := NewMachine(2)
	a := alertIn(models.StatusAwaitingAck)

	acked := step(t, m, a, Event{Kind: EventAcknowledge, At: now, By: "ops"})
	_, ok := m.Next(acked, Event{Kind: EventTimeout, At: now})
	assert.False(t, ok)

	escalated := step(t, m, a, Event{Kind: EventTimeout, At: now, AutoEscalation: true})
	_, ok = m.Next(escalated, Event{Kind: EventAcknowledge, At: now, By: "ops"})
	assert.False(t, ok)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	m := NewMachine(2)
	a := step(t, m, alertIn(models.StatusAwaitingAck), Event{Kind: EventAcknowledge, At: now, By: "first"})
	_, ok := m.Next(a, Event{Kind: EventAcknowledge, At: now.Add(time.Minute), By: "second"})
	assert.False(t, ok)
	assert.Equal(t, "first", *a.AcknowledgedBy)
}

func TestTimeoutWithoutAutoEscalationSurfacesAlert(t *testing.T) {
	m := NewMachine(2)
	a := step(t, m, alertIn(models.StatusAwaitingAck), Event{Kind: EventTimeout, At: now})
	assert.Equal(t, models.StatusEscalated, a.Status)
	assert.Equal(t, 0, a.EscalationLevel)
	assert.True(t, a.Exhausted)
}

func TestEmptyRoute(t *testing.T) {
	m := NewMachine(2)
	a := step(t, m, alertIn(models.StatusDispatching), Event{Kind: EventSuppressed, At: now})
	assert.Equal(t, models.StatusAutoResolved, a.Status)

	held := step(t, m, alertIn(models.StatusDispatching), Event{Kind: EventHeld, At: now})
	assert.Equal(t, models.StatusDispatching, held.Status)
	assert.True(t, held.Held)
	_, ok := m.Next(held, Event{Kind: EventHeld, At: now})
	assert.False(t, ok)

	resolved := step(t, m, held, Event{Kind: EventSignalCleared, At: now})
	assert.Equal(t, models.StatusAutoResolved, resolved.Status)

	_, ok = m.Next(alertIn(models.StatusDispatching), Event{Kind: EventSignalCleared, At: now})
	assert.False(t, ok, "only held alerts resolve on a cleared signal")
}

func TestDeliveryExhausted(t *testing.T) {
	m := NewMachine(1)
	surfaced := step(t, m, alertIn(models.StatusDispatching), Event{Kind: EventDeliveryExhausted, At: now})
	assert.Equal(t, models.StatusEscalated, surfaced.Status)
	assert.Equal(t, 0, surfaced.EscalationLevel)
	assert.True(t, surfaced.Exhausted)
	assert.True(t, surfaced.Terminal())
	assert.Contains(t, surfaced.Reason, "auto-escalation is disabled")

	_, ok := m.Next(alertIn(models.StatusAwaitingAck), Event{Kind: EventDeliveryExhausted, At: now})
	assert.False(t, ok, "only dispatching alerts exhaust delivery")

	a := step(t, m, alertIn(models.StatusDispatching), Event{Kind: EventDeliveryExhausted, At: now, AutoEscalation: true})
	assert.Equal(t, 1, a.EscalationLevel)
	assert.False(t, a.Exhausted)

	a = step(t, m, a, Event{Kind: EventDispatch, At: now})
	a = step(t, m, a, Event{Kind: EventDeliveryExhausted, At: now, AutoEscalation: true})
	assert.True(t, a.Exhausted)
}

func TestCancel(t *testing.T) {
	m := NewMachine(2)
	for _, st := range []models.AlertStatus{models.StatusNew, models.StatusDispatching, models.StatusAwaitingAck, models.StatusEscalated} {
		a := step(t, m, alertIn(st), Event{Kind: EventCancel, At: now, Reason: "false alarm"})
		assert.Equal(t, models.StatusCancelled, a.Status)
		assert.Equal(t, "false alarm", a.Reason)
	}
}

func TestNoExitFromTerminalStates(t *testing.T) {
	m := NewMachine(2)
	exhausted := alertIn(models.StatusEscalated)
	exhausted.Exhausted = true
	terminals := []models.Alert{
		alertIn(models.StatusAcknowledged),
		alertIn(models.StatusAutoResolved),
		alertIn(models.StatusCancelled),
		exhausted,
	}
	for _, a := range terminals {
		for kind := EventDispatch; kind <= EventCancel; kind++ {
			_, ok := m.Next(a, Event{Kind: kind, At: now, AutoEscalation: true, By: "x"})
			assert.False(t, ok, "%s must not leave %s", kind, a.Status)
		}
	}
}
