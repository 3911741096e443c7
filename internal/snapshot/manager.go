package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hazard-alert-service/internal/clock"
	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

// Manager owns the current snapshot. Readers call Current and never block;
// reloads and admin writes build a new snapshot and swap it in atomically.
type Manager struct {
	repo          Repository
	requiredKinds []string
	clock         clock.Clock
	logger        *logging.Logger

	current atomic.Pointer[Snapshot]
	version uint64
	mu      sync.Mutex

	listeners []func(*Snapshot)
}

func NewManager(repo Repository, requiredKinds []string, clk clock.Clock, logger *logging.Logger) *Manager {
	return &Manager{
		repo:          repo,
		requiredKinds: requiredKinds,
		clock:         clk,
		logger:        logger,
	}
}

// OnSwap registers fn to run after each successful swap. Register before Run.
func (m *Manager) OnSwap(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Current returns the active snapshot, or nil before the first Load.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Load reads the repository and swaps in a new snapshot. On error the previous
// snapshot stays active.
func (m *Manager) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := m.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m.swapLocked(cfg)
}

func (m *Manager) swapLocked(cfg Config) (*Snapshot, error) {
	snap, err := Build(cfg, m.requiredKinds)
	if err != nil {
		return nil, err
	}
	m.version++
	snap.Version = m.version
	snap.LoadedAt = m.clock.Now()
	m.current.Store(snap)
	for _, fn := range m.listeners {
		fn(snap)
	}
	return snap, nil
}

// Run reloads every interval and whenever changes fires, until ctx is done.
// changes may be nil.
func (m *Manager) Run(ctx context.Context, interval time.Duration, changes <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			m.logger.Infof("Configuration change detected, reloading")
		}
		if snap, err := m.Load(ctx); err != nil {
			m.logger.Errorf("Configuration reload failed, keeping version %d: %v", m.versionOf(m.Current()), err)
		} else {
			m.logger.Debugf("Configuration version %d active", snap.Version)
		}
	}
}

func (m *Manager) versionOf(s *Snapshot) uint64 {
	if s == nil {
		return 0
	}
	return s.Version
}

// mutate validates the edited configuration before it reaches the repository,
// so a rejected write leaves both the repository and the snapshot untouched.
func (m *Manager) mutate(ctx context.Context, edit func(Config) (Config, bool), persist func() error, what string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := m.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	next, ok := edit(cfg)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err := Validate(next, m.requiredKinds); err != nil {
		return nil, err
	}
	if err := persist(); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save %s: %w", what, err)
	}
	return m.swapLocked(next)
}

func (m *Manager) PutThreshold(ctx context.Context, kind string, set models.ThresholdSet) (*Snapshot, error) {
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithThreshold(kind, set), true },
		func() error { return m.repo.PutThreshold(ctx, kind, set) },
		"threshold "+kind)
}

func (m *Manager) DeleteThreshold(ctx context.Context, kind string) (*Snapshot, error) {
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithoutThreshold(kind) },
		func() error { return m.repo.DeleteThreshold(ctx, kind) },
		"threshold "+kind)
}

func (m *Manager) PutZone(ctx context.Context, zone models.Zone) (*Snapshot, error) {
	zone.UpdatedAt = m.clock.Now()
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithZone(zone), true },
		func() error { return m.repo.PutZone(ctx, zone) },
		"zone "+zone.ID)
}

func (m *Manager) DeleteZone(ctx context.Context, id string) (*Snapshot, error) {
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithoutZone(id) },
		func() error { return m.repo.DeleteZone(ctx, id) },
		"zone "+id)
}

func (m *Manager) PutContact(ctx context.Context, contact models.Contact) (*Snapshot, error) {
	contact.UpdatedAt = m.clock.Now()
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithContact(contact), true },
		func() error { return m.repo.PutContact(ctx, contact) },
		"contact "+contact.ID)
}

func (m *Manager) DeleteContact(ctx context.Context, id string) (*Snapshot, error) {
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithoutContact(id) },
		func() error { return m.repo.DeleteContact(ctx, id) },
		"contact "+id)
}

func (m *Manager) PutSchedule(ctx context.Context, profile models.ScheduleProfile) (*Snapshot, error) {
	profile.UpdatedAt = m.clock.Now()
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithSchedule(profile), true },
		func() error { return m.repo.PutSchedule(ctx, profile) },
		"schedule "+profile.Key)
}

func (m *Manager) DeleteSchedule(ctx context.Context, key string) (*Snapshot, error) {
	return m.mutate(ctx,
		func(c Config) (Config, bool) { return c.WithoutSchedule(key) },
		func() error { return m.repo.DeleteSchedule(ctx, key) },
		"schedule "+key)
}
