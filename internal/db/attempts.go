package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/store"
)

// AppendDeliveryAttempt adds one record to an alert's audit trail.
func (d *DB) AppendDeliveryAttempt(ctx context.Context, a models.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `
	INSERT INTO delivery_attempts (
		id, alert_id, contact_id, channel, attempt_number, outcome, permanent,
		error_code, error, provider_id, escalation_level, timestamp
	)
	SELECT @id, @alert_id, @contact_id, @channel, @attempt_number, @outcome, @permanent,
		@error_code, @error, @provider_id, @escalation_level, @timestamp
	WHERE EXISTS (SELECT 1 FROM alerts WHERE id = @alert_id)`

	tag, err := d.Pool.Exec(ctx, query, pgx.NamedArgs{
		"id":               a.ID,
		"alert_id":         a.AlertID,
		"contact_id":       a.ContactID,
		"channel":          string(a.Channel),
		"attempt_number":   a.AttemptNumber,
		"outcome":          string(a.Outcome),
		"permanent":        a.Permanent,
		"error_code":       a.ErrorCode,
		"error":            a.Error,
		"provider_id":      a.ProviderID,
		"escalation_level": a.EscalationLevel,
		"timestamp":        a.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: alert %s", store.ErrNotFound, a.AlertID)
	}
	return nil
}

// ListDeliveryAttempts returns an alert's attempts in the order they happened.
func (d *DB) ListDeliveryAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error) {
	if _, err := d.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}

	query := `
	SELECT id, alert_id, contact_id, channel, attempt_number, outcome, permanent,
		error_code, error, provider_id, escalation_level, timestamp
	FROM delivery_attempts
	WHERE alert_id = $1
	ORDER BY timestamp, attempt_number`

	rows, err := d.Pool.Query(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery attempts: %w", err)
	}
	defer rows.Close()

	var list []models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		var channel, outcome string
		err := rows.Scan(
			&a.ID,
			&a.AlertID,
			&a.ContactID,
			&channel,
			&a.AttemptNumber,
			&outcome,
			&a.Permanent,
			&a.ErrorCode,
			&a.Error,
			&a.ProviderID,
			&a.EscalationLevel,
			&a.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		a.Channel = models.ChannelKind(channel)
		a.Outcome = models.DeliveryOutcome(outcome)
		list = append(list, a)
	}
	return list, rows.Err()
}
