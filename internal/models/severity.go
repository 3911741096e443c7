package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Severity is the ordered risk classification of an alert.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "none",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// AllSeverities lists the alerting levels from lowest to highest.
var AllSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity accepts the lower-case level names used by the dashboard.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	case "none", "":
		return SeverityNone, nil
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

// Redundant reports whether alerts of this severity are sent over every enabled channel.
func (s Severity) Redundant() bool {
	return s >= SeverityHigh
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Severity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *Severity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SeveritySet is an explicit set of severities. The zero value is empty.
type SeveritySet map[Severity]struct{}

func NewSeveritySet(levels ...Severity) SeveritySet {
	set := SeveritySet{}
	for _, l := range levels {
		set[l] = struct{}{}
	}
	return set
}

func (s SeveritySet) Contains(level Severity) bool {
	_, ok := s[level]
	return ok
}

// Slice returns the members in ascending order.
func (s SeveritySet) Slice() []Severity {
	out := make([]Severity, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseSeveritySet accepts level names plus "all".
func ParseSeveritySet(names []string) (SeveritySet, error) {
	set := SeveritySet{}
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), "all") {
			for _, l := range AllSeverities {
				set[l] = struct{}{}
			}
			continue
		}
		l, err := ParseSeverity(n)
		if err != nil {
			return nil, err
		}
		if l == SeverityNone {
			return nil, fmt.Errorf("severity %q is not an alerting level", n)
		}
		set[l] = struct{}{}
	}
	return set, nil
}

func (s SeveritySet) names() []string {
	out := []string{}
	for _, l := range s.Slice() {
		out = append(out, l.String())
	}
	return out
}

func (s SeveritySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.names())
}

func (s *SeveritySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseSeveritySet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func (s SeveritySet) MarshalYAML() (interface{}, error) {
	return s.names(), nil
}

func (s *SeveritySet) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var names []string
	if err := unmarshal(&names); err != nil {
		return err
	}
	set, err := ParseSeveritySet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
