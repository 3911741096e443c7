// Package snapshot serves immutable, versioned views of the engine configuration.
package snapshot

import (
	"errors"
	"sort"

	"hazard-alert-service/internal/models"
)

var (
	ErrInvalidConfig = errors.New("invalid engine configuration")
	ErrNotFound      = errors.New("configuration entry not found")
)

// Config is the raw engine configuration as stored by a Repository.
type Config struct {
	Thresholds map[string]models.ThresholdSet `json:"thresholds" yaml:"thresholds"`
	Zones      []models.Zone                  `json:"zones" yaml:"zones"`
	Contacts   []models.Contact               `json:"contacts" yaml:"contacts"`
	Schedules  []models.ScheduleProfile       `json:"schedules" yaml:"schedules"`
}

// Clone copies the top-level collections so edits do not leak into snapshots.
func (c Config) Clone() Config {
	out := Config{
		Thresholds: make(map[string]models.ThresholdSet, len(c.Thresholds)),
		Zones:      append([]models.Zone(nil), c.Zones...),
		Contacts:   append([]models.Contact(nil), c.Contacts...),
		Schedules:  append([]models.ScheduleProfile(nil), c.Schedules...),
	}
	for k, v := range c.Thresholds {
		out.Thresholds[k] = v
	}
	return out
}

func (c Config) WithThreshold(kind string, set models.ThresholdSet) Config {
	out := c.Clone()
	out.Thresholds[kind] = set
	return out
}

func (c Config) WithoutThreshold(kind string) (Config, bool) {
	if _, ok := c.Thresholds[kind]; !ok {
		return c, false
	}
	out := c.Clone()
	delete(out.Thresholds, kind)
	return out, true
}

func (c Config) WithZone(z models.Zone) Config {
	out := c.Clone()
	for i := range out.Zones {
		if out.Zones[i].ID == z.ID {
			out.Zones[i] = z
			return out
		}
	}
	out.Zones = append(out.Zones, z)
	sort.Slice(out.Zones, func(i, j int) bool { return out.Zones[i].ID < out.Zones[j].ID })
	return out
}

func (c Config) WithoutZone(id string) (Config, bool) {
	out := c.Clone()
	for i := range out.Zones {
		if out.Zones[i].ID == id {
			out.Zones = append(out.Zones[:i], out.Zones[i+1:]...)
			return out, true
		}
	}
	return c, false
}

func (c Config) WithContact(ct models.Contact) Config {
	out := c.Clone()
	for i := range out.Contacts {
		if out.Contacts[i].ID == ct.ID {
			out.Contacts[i] = ct
			return out
		}
	}
	out.Contacts = append(out.Contacts, ct)
	sort.Slice(out.Contacts, func(i, j int) bool { return out.Contacts[i].ID < out.Contacts[j].ID })
	return out
}

func (c Config) WithoutContact(id string) (Config, bool) {
	out := c.Clone()
	for i := range out.Contacts {
		if out.Contacts[i].ID == id {
			out.Contacts = append(out.Contacts[:i], out.Contacts[i+1:]...)
			return out, true
		}
	}
	return c, false
}

func (c Config) WithSchedule(p models.ScheduleProfile) Config {
	out := c.Clone()
	for i := range out.Schedules {
		if out.Schedules[i].Key == p.Key {
			out.Schedules[i] = p
			return out
		}
	}
	out.Schedules = append(out.Schedules, p)
	sort.Slice(out.Schedules, func(i, j int) bool { return out.Schedules[i].Key < out.Schedules[j].Key })
	return out
}

func (c Config) WithoutSchedule(key string) (Config, bool) {
	out := c.Clone()
	for i := range out.Schedules {
		if out.Schedules[i].Key == key {
			out.Schedules = append(out.Schedules[:i], out.Schedules[i+1:]...)
			return out, true
		}
	}
	return c, false
}
