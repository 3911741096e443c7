package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/snapshot"
)

// ConfigRepository keeps thresholds, zones, contacts and schedules in Postgres.
// It implements snapshot.Repository.
type ConfigRepository struct {
	db *DB
}

func NewConfigRepository(d *DB) *ConfigRepository {
	return &ConfigRepository{db: d}
}

// Seed writes cfg when the database holds no configuration yet. It reports
// whether anything was written.
func (r *ConfigRepository) Seed(ctx context.Context, cfg snapshot.Config) (bool, error) {
	var zones int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM zones`).Scan(&zones); err != nil {
		return false, fmt.Errorf("failed to count zones: %w", err)
	}
	if zones > 0 {
		return false, nil
	}

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		for kind, set := range cfg.Thresholds {
			if err := putThreshold(ctx, tx, kind, set); err != nil {
				return err
			}
		}
		for _, z := range cfg.Zones {
			if err := putZone(ctx, tx, z); err != nil {
				return err
			}
		}
		for _, c := range cfg.Contacts {
			if err := putContact(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, p := range cfg.Schedules {
			if err := putSchedule(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed configuration: %w", err)
	}
	return true, nil
}

// Load reads the whole configuration inside one read-only transaction.
func (r *ConfigRepository) Load(ctx context.Context) (snapshot.Config, error) {
	cfg := snapshot.Config{Thresholds: map[string]models.ThresholdSet{}}
	err := pgx.BeginTxFunc(ctx, r.db.Pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		if cfg.Thresholds, err = loadThresholds(ctx, tx); err != nil {
			return err
		}
		if cfg.Zones, err = loadZones(ctx, tx); err != nil {
			return err
		}
		if cfg.Contacts, err = loadContacts(ctx, tx); err != nil {
			return err
		}
		cfg.Schedules, err = loadSchedules(ctx, tx)
		return err
	})
	if err != nil {
		return snapshot.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func loadThresholds(ctx context.Context, tx pgx.Tx) (map[string]models.ThresholdSet, error) {
	rows, err := tx.Query(ctx, `SELECT parameter_kind, low, medium, high, critical FROM thresholds`)
	if err != nil {
		return nil, fmt.Errorf("failed to get thresholds: %w", err)
	}
	defer rows.Close()

	out := map[string]models.ThresholdSet{}
	for rows.Next() {
		var kind string
		var t models.ThresholdSet
		if err := rows.Scan(&kind, &t.Low, &t.Medium, &t.High, &t.Critical); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		out[kind] = t
	}
	return out, rows.Err()
}

func loadZones(ctx context.Context, tx pgx.Tx) ([]models.Zone, error) {
	rows, err := tx.Query(ctx, `
	SELECT id, name, priority, monitoring_enabled, auto_escalation_enabled, updated_at
	FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get zones: %w", err)
	}
	defer rows.Close()

	var list []models.Zone
	for rows.Next() {
		var z models.Zone
		var priority string
		if err := rows.Scan(&z.ID, &z.Name, &priority, &z.MonitoringEnabled, &z.AutoEscalationEnabled, &z.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		if z.Priority, err = models.ParseSeverity(priority); err != nil {
			return nil, fmt.Errorf("zone %s: %w", z.ID, err)
		}
		list = append(list, z)
	}
	return list, rows.Err()
}

func loadContacts(ctx context.Context, tx pgx.Tx) ([]models.Contact, error) {
	rows, err := tx.Query(ctx, `
	SELECT id, name, role, priority_tier, channels, routine_channels, zones, is_backup,
		status, email, phone, chat_id, updated_at
	FROM contacts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	defer rows.Close()

	var list []models.Contact
	for rows.Next() {
		var c models.Contact
		var tier, status string
		err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Role,
			&tier,
			&c.Channels, // JSONB
			&c.RoutineChannels,
			&c.Zones,
			&c.IsBackup,
			&status,
			&c.Email,
			&c.Phone,
			&c.ChatID,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		if c.PriorityTier, err = models.ParseSeverity(tier); err != nil {
			return nil, fmt.Errorf("contact %s: %w", c.ID, err)
		}
		c.Status = models.ContactStatus(status)
		list = append(list, c)
	}
	return list, rows.Err()
}

func loadSchedules(ctx context.Context, tx pgx.Tx) ([]models.ScheduleProfile, error) {
	rows, err := tx.Query(ctx, `
	SELECT key, enabled, start_minute, end_minute, days, allowed_severities, escalation_delay, expires_at, updated_at
	FROM schedule_profiles ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedules: %w", err)
	}
	defer rows.Close()

	var list []models.ScheduleProfile
	for rows.Next() {
		var p models.ScheduleProfile
		var start, end int
		var delay string
		err := rows.Scan(&p.Key, &p.Enabled, &start, &end, &p.Days, &p.AllowedSeverities, &delay, &p.ExpiresAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", p.Key, err)
		}
		p.Start, p.End, p.EscalationDelay = models.ClockTime(start), models.ClockTime(end), models.Duration(d)
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *ConfigRepository) PutThreshold(ctx context.Context, kind string, set models.ThresholdSet) error {
	return putThreshold(ctx, r.db.Pool, kind, set)
}

func (r *ConfigRepository) DeleteThreshold(ctx context.Context, kind string) error {
	return r.delete(ctx, `DELETE FROM thresholds WHERE parameter_kind = $1`, kind, "threshold")
}

func (r *ConfigRepository) PutZone(ctx context.Context, zone models.Zone) error {
	return putZone(ctx, r.db.Pool, zone)
}

func (r *ConfigRepository) DeleteZone(ctx context.Context, id string) error {
	return r.delete(ctx, `DELETE FROM zones WHERE id = $1`, id, "zone")
}

func (r *ConfigRepository) PutContact(ctx context.Context, contact models.Contact) error {
	return putContact(ctx, r.db.Pool, contact)
}

func (r *ConfigRepository) DeleteContact(ctx context.Context, id string) error {
	return r.delete(ctx, `DELETE FROM contacts WHERE id = $1`, id, "contact")
}

func (r *ConfigRepository) PutSchedule(ctx context.Context, profile models.ScheduleProfile) error {
	return putSchedule(ctx, r.db.Pool, profile)
}

func (r *ConfigRepository) DeleteSchedule(ctx context.Context, key string) error {
	return r.delete(ctx, `DELETE FROM schedule_profiles WHERE key = $1`, key, "schedule")
}

func (r *ConfigRepository) delete(ctx context.Context, query, key, what string) error {
	tag, err := r.db.Pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", snapshot.ErrNotFound, what, key)
	}
	return nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func putThreshold(ctx context.Context, ex execer, kind string, t models.ThresholdSet) error {
	_, err := ex.Exec(ctx, `
	INSERT INTO thresholds (parameter_kind, low, medium, high, critical)
	VALUES (@kind, @low, @medium, @high, @critical)
	ON CONFLICT (parameter_kind) DO UPDATE SET
		low = EXCLUDED.low, medium = EXCLUDED.medium, high = EXCLUDED.high, critical = EXCLUDED.critical`,
		pgx.NamedArgs{"kind": kind, "low": t.Low, "medium": t.Medium, "high": t.High, "critical": t.Critical})
	if err != nil {
		return fmt.Errorf("failed to save threshold: %w", err)
	}
	return nil
}

func putZone(ctx context.Context, ex execer, z models.Zone) error {
	_, err := ex.Exec(ctx, `
	INSERT INTO zones (id, name, priority, monitoring_enabled, auto_escalation_enabled, updated_at)
	VALUES (@id, @name, @priority, @monitoring, @auto_escalation, @updated_at)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name, priority = EXCLUDED.priority,
		monitoring_enabled = EXCLUDED.monitoring_enabled,
		auto_escalation_enabled = EXCLUDED.auto_escalation_enabled,
		updated_at = EXCLUDED.updated_at`,
		pgx.NamedArgs{
			"id":              z.ID,
			"name":            z.Name,
			"priority":        z.Priority.String(),
			"monitoring":      z.MonitoringEnabled,
			"auto_escalation": z.AutoEscalationEnabled,
			"updated_at":      stamp(z.UpdatedAt),
		})
	if err != nil {
		return fmt.Errorf("failed to save zone: %w", err)
	}
	return nil
}

func putContact(ctx context.Context, ex execer, c models.Contact) error {
	routine := c.RoutineChannels
	if routine == nil {
		routine = models.ChannelSet{}
	}
	_, err := ex.Exec(ctx, `
	INSERT INTO contacts (
		id, name, role, priority_tier, channels, routine_channels, zones, is_backup,
		status, email, phone, chat_id, updated_at
	)
	VALUES (
		@id, @name, @role, @tier, @channels, @routine, @zones, @is_backup,
		@status, @email, @phone, @chat_id, @updated_at
	)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name, role = EXCLUDED.role, priority_tier = EXCLUDED.priority_tier,
		channels = EXCLUDED.channels, routine_channels = EXCLUDED.routine_channels,
		zones = EXCLUDED.zones, is_backup = EXCLUDED.is_backup, status = EXCLUDED.status,
		email = EXCLUDED.email, phone = EXCLUDED.phone, chat_id = EXCLUDED.chat_id,
		updated_at = EXCLUDED.updated_at`,
		pgx.NamedArgs{
			"id":         c.ID,
			"name":       c.Name,
			"role":       c.Role,
			"tier":       c.PriorityTier.String(),
			"channels":   c.Channels, // bound as JSONB
			"routine":    routine,
			"zones":      c.Zones,
			"is_backup":  c.IsBackup,
			"status":     string(c.Status),
			"email":      c.Email,
			"phone":      c.Phone,
			"chat_id":    c.ChatID,
			"updated_at": stamp(c.UpdatedAt),
		})
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

func putSchedule(ctx context.Context, ex execer, p models.ScheduleProfile) error {
	_, err := ex.Exec(ctx, `
	INSERT INTO schedule_profiles (
		key, enabled, start_minute, end_minute, days, allowed_severities, escalation_delay, expires_at, updated_at
	)
	VALUES (@key, @enabled, @start, @end, @days, @severities, @delay, @expires_at, @updated_at)
	ON CONFLICT (key) DO UPDATE SET
		enabled = EXCLUDED.enabled, start_minute = EXCLUDED.start_minute, end_minute = EXCLUDED.end_minute,
		days = EXCLUDED.days, allowed_severities = EXCLUDED.allowed_severities,
		escalation_delay = EXCLUDED.escalation_delay, expires_at = EXCLUDED.expires_at,
		updated_at = EXCLUDED.updated_at`,
		pgx.NamedArgs{
			"key":        p.Key,
			"enabled":    p.Enabled,
			"start":      int(p.Start),
			"end":        int(p.End),
			"days":       p.Days,
			"severities": p.AllowedSeverities,
			"delay":      p.Delay().String(),
			"expires_at": p.ExpiresAt,
			"updated_at": stamp(p.UpdatedAt),
		})
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
