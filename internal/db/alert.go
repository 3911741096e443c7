package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/store"
)

const alertColumns = `id, zone_id, parameter_kind, severity, value, observed_at, created_at, updated_at,
	status, acknowledged_by, acknowledged_at, escalation_level, escalation_deadline, held, exhausted, reason`

var openStatuses = []string{
	string(models.StatusNew),
	string(models.StatusDispatching),
	string(models.StatusAwaitingAck),
	string(models.StatusEscalated),
}

// CreateAlert inserts a new alert record.
func (d *DB) CreateAlert(ctx context.Context, alert models.Alert) error {
	query := `
	INSERT INTO alerts (` + alertColumns + `)
	VALUES (
		@id, @zone_id, @parameter_kind, @severity, @value, @observed_at, @created_at, @updated_at,
		@status, @acknowledged_by, @acknowledged_at, @escalation_level, @escalation_deadline, @held, @exhausted, @reason
	)`

	_, err := d.Pool.Exec(ctx, query, pgx.NamedArgs{
		"id":                  alert.ID,
		"zone_id":             alert.ZoneID,
		"parameter_kind":      alert.ParameterKind,
		"severity":            alert.Severity.String(),
		"value":               alert.Value,
		"observed_at":         alert.ObservedAt,
		"created_at":          alert.CreatedAt,
		"updated_at":          alert.UpdatedAt,
		"status":              string(alert.Status),
		"acknowledged_by":     alert.AcknowledgedBy,
		"acknowledged_at":     alert.AcknowledgedAt,
		"escalation_level":    alert.EscalationLevel,
		"escalation_deadline": alert.EscalationDeadline,
		"held":                alert.Held,
		"exhausted":           alert.Exhausted,
		"reason":              alert.Reason,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: alert %s", store.ErrExists, alert.ID)
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches one alert by id.
func (d *DB) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Alert{}, fmt.Errorf("%w: alert %s", store.ErrNotFound, id)
		}
		return models.Alert{}, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// CompareAndSetStatus commits change only while the stored status still equals
// expected. On a mismatch it returns the stored alert and store.ErrConflict.
func (d *DB) CompareAndSetStatus(ctx context.Context, id string, expected models.AlertStatus, change models.StatusChange) (models.Alert, error) {
	query := `
	UPDATE alerts SET
		status = @status,
		escalation_level = @escalation_level,
		escalation_deadline = @escalation_deadline,
		held = @held,
		exhausted = @exhausted,
		acknowledged_by = COALESCE(@acknowledged_by::text, acknowledged_by),
		acknowledged_at = COALESCE(@acknowledged_at::timestamptz, acknowledged_at),
		reason = CASE WHEN @reason::text = '' THEN reason ELSE @reason::text END,
		updated_at = @updated_at
	WHERE id = @id AND status = @expected
	RETURNING ` + alertColumns

	row := d.Pool.QueryRow(ctx, query, pgx.NamedArgs{
		"id":                  id,
		"expected":            string(expected),
		"status":              string(change.Status),
		"escalation_level":    change.EscalationLevel,
		"escalation_deadline": change.EscalationDeadline,
		"held":                change.Held,
		"exhausted":           change.Exhausted,
		"acknowledged_by":     change.AcknowledgedBy,
		"acknowledged_at":     change.AcknowledgedAt,
		"reason":              change.Reason,
		"updated_at":          change.At,
	})
	alert, err := scanAlert(row)
	if err == nil {
		return alert, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("failed to update alert status: %w", err)
	}

	current, err := d.GetAlert(ctx, id)
	if err != nil {
		return models.Alert{}, err
	}
	return current, fmt.Errorf("%w: alert %s is %s, expected %s", store.ErrConflict, id, current.Status, expected)
}

// ListPendingEscalations returns AwaitingAck alerts whose deadline is at or before before.
func (d *DB) ListPendingEscalations(ctx context.Context, before time.Time) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
	WHERE status = $1 AND escalation_deadline <= $2
	ORDER BY escalation_deadline`
	return d.queryAlerts(ctx, query, string(models.StatusAwaitingAck), before)
}

// ListOpenAlerts returns every alert that can still change state.
func (d *DB) ListOpenAlerts(ctx context.Context) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
	WHERE status = ANY($1) AND NOT (status = $2 AND exhausted)
	ORDER BY created_at`
	return d.queryAlerts(ctx, query, openStatuses, string(models.StatusEscalated))
}

// ListAlerts returns alert history newest first.
func (d *DB) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	var where []string
	args := pgx.NamedArgs{}
	if filter.ZoneID != "" {
		where = append(where, "zone_id = @zone_id")
		args["zone_id"] = filter.ZoneID
	}
	if filter.Status != "" {
		where = append(where, "status = @status")
		args["status"] = string(filter.Status)
	}
	if filter.Severity != models.SeverityNone {
		where = append(where, "severity = @severity")
		args["severity"] = filter.Severity.String()
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= @since")
		args["since"] = filter.Since
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT @limit"
		args["limit"] = filter.Limit
	}
	if filter.Offset > 0 {
		query += " OFFSET @offset"
		args["offset"] = filter.Offset
	}
	return d.queryAlerts(ctx, query, args)
}

func (d *DB) queryAlerts(ctx context.Context, query string, args ...any) ([]models.Alert, error) {
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var list []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, alert)
	}
	return list, rows.Err()
}

func scanAlert(row pgx.Row) (models.Alert, error) {
	var a models.Alert
	var severity, status string
	err := row.Scan(
		&a.ID,
		&a.ZoneID,
		&a.ParameterKind,
		&severity,
		&a.Value,
		&a.ObservedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&status,
		&a.AcknowledgedBy,
		&a.AcknowledgedAt,
		&a.EscalationLevel,
		&a.EscalationDeadline,
		&a.Held,
		&a.Exhausted,
		&a.Reason,
	)
	if err != nil {
		return models.Alert{}, err
	}
	if a.Severity, err = models.ParseSeverity(severity); err != nil {
		return models.Alert{}, err
	}
	a.Status = models.AlertStatus(status)
	return a, nil
}
