// Package store defines alert persistence and ships an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"hazard-alert-service/internal/models"
)

var (
	ErrNotFound = errors.New("alert not found")
	// ErrConflict means the alert's status no longer matches the expected one.
	ErrConflict = errors.New("alert status changed concurrently")
	ErrExists   = errors.New("alert already exists")
)

// AlertStore is the engine's persistence boundary. CompareAndSetStatus is the
// only way an alert's status changes.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	CompareAndSetStatus(ctx context.Context, id string, expected models.AlertStatus, change models.StatusChange) (models.Alert, error)
	AppendDeliveryAttempt(ctx context.Context, attempt models.DeliveryAttempt) error
	ListDeliveryAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error)
	// ListPendingEscalations returns AwaitingAck alerts whose deadline is at or before the given time.
	ListPendingEscalations(ctx context.Context, before time.Time) ([]models.Alert, error)
	// ListOpenAlerts returns every non-terminal alert.
	ListOpenAlerts(ctx context.Context) ([]models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
}

// Matches reports whether a passes filter, ignoring paging.
func Matches(a models.Alert, f models.AlertFilter) bool {
	if f.ZoneID != "" && a.ZoneID != f.ZoneID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != models.SeverityNone && a.Severity != f.Severity {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
