package snapshot

import (
	"context"
	"fmt"
	"sync"

	"hazard-alert-service/internal/models"
)

// Repository is where the configuration lives. Writes are only issued after
// the Manager validated the resulting configuration.
type Repository interface {
	Load(ctx context.Context) (Config, error)
	PutThreshold(ctx context.Context, kind string, set models.ThresholdSet) error
	DeleteThreshold(ctx context.Context, kind string) error
	PutZone(ctx context.Context, zone models.Zone) error
	DeleteZone(ctx context.Context, id string) error
	PutContact(ctx context.Context, contact models.Contact) error
	DeleteContact(ctx context.Context, id string) error
	PutSchedule(ctx context.Context, profile models.ScheduleProfile) error
	DeleteSchedule(ctx context.Context, key string) error
}

// MemoryRepository keeps the configuration in process.
type MemoryRepository struct {
	mu  sync.Mutex
	cfg Config
}

func NewMemoryRepository(cfg Config) *MemoryRepository {
	return &MemoryRepository{cfg: cfg.Clone()}
}

func (r *MemoryRepository) Load(context.Context) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Clone(), nil
}

func (r *MemoryRepository) update(fn func(Config) (Config, bool), what string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := fn(r.cfg)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	r.cfg = next
	return nil
}

func (r *MemoryRepository) PutThreshold(_ context.Context, kind string, set models.ThresholdSet) error {
	return r.update(func(c Config) (Config, bool) { return c.WithThreshold(kind, set), true }, kind)
}

func (r *MemoryRepository) DeleteThreshold(_ context.Context, kind string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutThreshold(kind) }, kind)
}

func (r *MemoryRepository) PutZone(_ context.Context, zone models.Zone) error {
	return r.update(func(c Config) (Config, bool) { return c.WithZone(zone), true }, zone.ID)
}

func (r *MemoryRepository) DeleteZone(_ context.Context, id string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutZone(id) }, id)
}

func (r *MemoryRepository) PutContact(_ context.Context, contact models.Contact) error {
	return r.update(func(c Config) (Config, bool) { return c.WithContact(contact), true }, contact.ID)
}

func (r *MemoryRepository) DeleteContact(_ context.Context, id string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutContact(id) }, id)
}

func (r *MemoryRepository) PutSchedule(_ context.Context, profile models.ScheduleProfile) error {
	return r.update(func(c Config) (Config, bool) { return c.WithSchedule(profile), true }, profile.Key)
}

func (r *MemoryRepository) DeleteSchedule(_ context.Context, key string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutSchedule(key) }, key)
}
