package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known schedule profile keys.
const (
	ProfileEmergency     = "emergency"
	ProfileSuppress      = "suppress"
	ProfileDefault       = "default"
	ProfileBusinessHours = "businessHours"
	ProfileAfterHours    = "afterHours"
	ProfileWeekends      = "weekends"
)

// MinutesPerDay bounds ClockTime.
const MinutesPerDay = 24 * 60

// ClockTime is a time of day in minutes after midnight, written "HH:MM". "24:00" is allowed as an end bound.
type ClockTime int

func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func (c *ClockTime) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DaySet is an explicit set of weekdays.
type DaySet map[time.Weekday]struct{}

func NewDaySet(days ...time.Weekday) DaySet {
	set := DaySet{}
	for _, d := range days {
		set[d] = struct{}{}
	}
	return set
}

// EveryDay is a convenience for always-on profiles.
func EveryDay() DaySet {
	return NewDaySet(time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
}

func (s DaySet) Contains(d time.Weekday) bool {
	_, ok := s[d]
	return ok
}

func ParseDaySet(names []string) (DaySet, error) {
	set := DaySet{}
	for _, n := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(strings.TrimSpace(n), d.String()) || strings.EqualFold(strings.TrimSpace(n), d.String()[:3]) {
				set[d] = struct{}{}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
	}
	return set, nil
}

func (s DaySet) names() []string {
	days := make([]int, 0, len(s))
	for d := range s {
		days = append(days, int(d))
	}
	sort.Ints(days)
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, strings.ToLower(time.Weekday(d).String()))
	}
	return out
}

func (s DaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.names())
}

func (s *DaySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseDaySet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func (s DaySet) MarshalYAML() (interface{}, error) {
	return s.names(), nil
}

func (s *DaySet) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var names []string
	if err := unmarshal(&names); err != nil {
		return err
	}
	set, err := ParseDaySet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Duration marshals as a Go duration string such as "5m".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ScheduleProfile is a time-window-scoped delivery policy.
type ScheduleProfile struct {
	Key               string      `json:"key" yaml:"key"`
	Enabled           bool        `json:"enabled" yaml:"enabled"`
	Start             ClockTime   `json:"start" yaml:"start"`
	End               ClockTime   `json:"end" yaml:"end"`
	Days              DaySet      `json:"days" yaml:"days"`
	AllowedSeverities SeveritySet `json:"allowed_severities" yaml:"allowed_severities"`
	EscalationDelay   Duration    `json:"escalation_delay" yaml:"escalation_delay"`
	// ExpiresAt bounds temporary profiles such as a suppression window.
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at"`
	UpdatedAt time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// Delay returns the escalation delay as a time.Duration.
func (p ScheduleProfile) Delay() time.Duration {
	return time.Duration(p.EscalationDelay)
}

// Expired reports whether a temporary profile has lapsed at now.
func (p ScheduleProfile) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// WholeDay reports whether the window covers all 24 hours.
func (p ScheduleProfile) WholeDay() bool {
	return p.Start == p.End || (p.Start == 0 && p.End == MinutesPerDay)
}

func (p ScheduleProfile) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("schedule profile key is required")
	}
	if p.Key == ProfileDefault {
		return fmt.Errorf("schedule profile key %q is reserved", p.Key)
	}
	if p.Start < 0 || p.Start >= MinutesPerDay {
		return fmt.Errorf("schedule %s: start %s out of range", p.Key, p.Start)
	}
	if p.End < 0 || p.End > MinutesPerDay {
		return fmt.Errorf("schedule %s: end %s out of range", p.Key, p.End)
	}
	if p.EscalationDelay < 0 {
		return fmt.Errorf("schedule %s: escalation delay must not be negative", p.Key)
	}
	if p.Key == ProfileSuppress {
		if p.ExpiresAt == nil {
			return fmt.Errorf("schedule %s: a suppression profile needs expires_at", p.Key)
		}
		return nil
	}
	if len(p.Days) == 0 && p.Key != ProfileEmergency {
		return fmt.Errorf("schedule %s: at least one day is required", p.Key)
	}
	return nil
}
