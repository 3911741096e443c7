package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hazard-alert-service/internal/models"
)

// Memory is a process-local AlertStore.
type Memory struct {
	mu       sync.RWMutex
	alerts   map[string]models.Alert
	attempts map[string][]models.DeliveryAttempt
}

func NewMemory() *Memory {
	return &Memory{
		alerts:   make(map[string]models.Alert),
		attempts: make(map[string][]models.DeliveryAttempt),
	}
}

func (m *Memory) CreateAlert(_ context.Context, alert models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, alert.ID)
	}
	m.alerts[alert.ID] = copyAlert(alert)
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyAlert(a), nil
}

func (m *Memory) CompareAndSetStatus(_ context.Context, id string, expected models.AlertStatus, change models.StatusChange) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if a.Status != expected {
		return copyAlert(a), fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, id, a.Status, expected)
	}
	a = copyAlert(a.Apply(change))
	m.alerts[id] = a
	return copyAlert(a), nil
}

func (m *Memory) AppendDeliveryAttempt(_ context.Context, attempt models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[attempt.AlertID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, attempt.AlertID)
	}
	m.attempts[attempt.AlertID] = append(m.attempts[attempt.AlertID], attempt)
	return nil
}

func (m *Memory) ListDeliveryAttempts(_ context.Context, alertID string) ([]models.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.alerts[alertID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	out := make([]models.DeliveryAttempt, len(m.attempts[alertID]))
	copy(out, m.attempts[alertID])
	return out, nil
}

func (m *Memory) ListPendingEscalations(_ context.Context, before time.Time) ([]models.Alert, error) {
	return m.collect(func(a models.Alert) bool {
		return a.Status == models.StatusAwaitingAck && a.EscalationDeadline != nil && !a.EscalationDeadline.After(before)
	}, "deadline"), nil
}

func (m *Memory) ListOpenAlerts(_ context.Context) ([]models.Alert, error) {
	return m.collect(func(a models.Alert) bool { return !a.Terminal() }, "created"), nil
}

func (m *Memory) ListAlerts(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	all := m.collect(func(a models.Alert) bool { return Matches(a, filter) }, "newest")
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return []models.Alert{}, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (m *Memory) collect(keep func(models.Alert) bool, order string) []models.Alert {
	m.mu.RLock()
	out := make([]models.Alert, 0)
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, copyAlert(a))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch order {
		case "deadline":
			if !a.EscalationDeadline.Equal(*b.EscalationDeadline) {
				return a.EscalationDeadline.Before(*b.EscalationDeadline)
			}
		case "newest":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
	return out
}

// copyAlert detaches pointer fields so callers cannot mutate stored state.
func copyAlert(a models.Alert) models.Alert {
	if a.AcknowledgedBy != nil {
		v := *a.AcknowledgedBy
		a.AcknowledgedBy = &v
	}
	if a.AcknowledgedAt != nil {
		v := *a.AcknowledgedAt
		a.AcknowledgedAt = &v
	}
	if a.EscalationDeadline != nil {
		v := *a.EscalationDeadline
		a.EscalationDeadline = &v
	}
	return a
}
