package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

// FileRepository reads and writes the configuration as a YAML document.
type FileRepository struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

func NewFileRepository(path string, logger *logging.Logger) *FileRepository {
	return &FileRepository{path: path, logger: logger}
}

func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) Load(context.Context) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *FileRepository) read() (Config, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read %s: %w", r.path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidConfig, r.path, err)
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = map[string]models.ThresholdSet{}
	}
	return cfg, nil
}

// write replaces the file atomically so watchers never see a partial document.
func (r *FileRepository) write(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), "."+filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", r.path, err)
	}
	return nil
}

func (r *FileRepository) update(fn func(Config) (Config, bool), what string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, err := r.read()
	if err != nil {
		return err
	}
	next, ok := fn(cfg)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return r.write(next)
}

func (r *FileRepository) PutThreshold(_ context.Context, kind string, set models.ThresholdSet) error {
	return r.update(func(c Config) (Config, bool) { return c.WithThreshold(kind, set), true }, kind)
}

func (r *FileRepository) DeleteThreshold(_ context.Context, kind string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutThreshold(kind) }, kind)
}

func (r *FileRepository) PutZone(_ context.Context, zone models.Zone) error {
	return r.update(func(c Config) (Config, bool) { return c.WithZone(zone), true }, zone.ID)
}

func (r *FileRepository) DeleteZone(_ context.Context, id string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutZone(id) }, id)
}

func (r *FileRepository) PutContact(_ context.Context, contact models.Contact) error {
	return r.update(func(c Config) (Config, bool) { return c.WithContact(contact), true }, contact.ID)
}

func (r *FileRepository) DeleteContact(_ context.Context, id string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutContact(id) }, id)
}

func (r *FileRepository) PutSchedule(_ context.Context, profile models.ScheduleProfile) error {
	return r.update(func(c Config) (Config, bool) { return c.WithSchedule(profile), true }, profile.Key)
}

func (r *FileRepository) DeleteSchedule(_ context.Context, key string) error {
	return r.update(func(c Config) (Config, bool) { return c.WithoutSchedule(key) }, key)
}

// Watch signals on the returned channel whenever the file changes on disk.
// The directory is watched because editors and our own writes replace the file.
func (r *FileRepository) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.path), err)
	}

	changes := make(chan struct{}, 1)
	name := filepath.Clean(r.path)
	go func() {
		defer w.Close()
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warnf("Config watcher error: %v", err)
			}
		}
	}()
	return changes, nil
}
