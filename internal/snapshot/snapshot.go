package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"hazard-alert-service/internal/models"
	"hazard-alert-service/internal/schedule"
	"hazard-alert-service/internal/threshold"
)

// Snapshot is a validated, read-only view of the configuration. Readers hold
// on to one snapshot for the whole of an operation.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	config    Config
	evaluator *threshold.Evaluator
	zones     map[string]models.Zone
}

// Build validates cfg and indexes it. requiredKinds lists the parameter kinds
// the deployment expects signals for; each needs a ThresholdSet.
func Build(cfg Config, requiredKinds []string) (*Snapshot, error) {
	if err := Validate(cfg, requiredKinds); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	evaluator, err := threshold.NewEvaluator(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	zones := make(map[string]models.Zone, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones[z.ID] = z
	}
	sort.Slice(cfg.Contacts, func(i, j int) bool { return cfg.Contacts[i].ID < cfg.Contacts[j].ID })
	return &Snapshot{config: cfg, evaluator: evaluator, zones: zones}, nil
}

// Validate collects every problem in cfg.
func Validate(cfg Config, requiredKinds []string) error {
	var result *multierror.Error

	for kind, set := range cfg.Thresholds {
		if kind == "" {
			result = multierror.Append(result, fmt.Errorf("threshold set with empty parameter kind"))
			continue
		}
		if err := set.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("thresholds for %s: %w", kind, err))
		}
	}
	for _, kind := range requiredKinds {
		if _, ok := cfg.Thresholds[kind]; !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %s", threshold.ErrUnknownParameter, kind))
		}
	}

	zones := map[string]bool{}
	for _, z := range cfg.Zones {
		if err := z.Validate(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if zones[z.ID] {
			result = multierror.Append(result, fmt.Errorf("zone %s: duplicate id", z.ID))
		}
		zones[z.ID] = true
	}

	contacts := map[string]bool{}
	for _, c := range cfg.Contacts {
		if err := c.Validate(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if contacts[c.ID] {
			result = multierror.Append(result, fmt.Errorf("contact %s: duplicate id", c.ID))
		}
		contacts[c.ID] = true
		for _, z := range c.Zones {
			if !models.IsAllZones(z) && !zones[z] {
				result = multierror.Append(result, fmt.Errorf("contact %s: unknown zone %s", c.ID, z))
			}
		}
	}

	if err := schedule.Validate(cfg.Schedules); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Config returns a copy of the raw configuration.
func (s *Snapshot) Config() Config {
	return s.config.Clone()
}

func (s *Snapshot) Evaluator() *threshold.Evaluator {
	return s.evaluator
}

func (s *Snapshot) Zone(id string) (models.Zone, bool) {
	z, ok := s.zones[id]
	return z, ok
}

// Contacts returns contacts ordered by id. Callers must not modify them.
func (s *Snapshot) Contacts() []models.Contact {
	return s.config.Contacts
}

func (s *Snapshot) Contact(id string) (models.Contact, bool) {
	for _, c := range s.config.Contacts {
		if c.ID == id {
			return c, true
		}
	}
	return models.Contact{}, false
}

// Schedules returns the configured profiles. Callers must not modify them.
func (s *Snapshot) Schedules() []models.ScheduleProfile {
	return s.config.Schedules
}
