package models

import (
	"fmt"
	"math"
	"time"
)

// Signal is a raw metric observation from the sensing/AI upstream.
type Signal struct {
	ParameterKind string    `json:"parameter_kind" binding:"required"`
	ZoneID        string    `json:"zone_id" binding:"required"`
	Value         float64   `json:"value"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Validate checks the fields the engine relies on.
func (s Signal) Validate() error {
	if s.ParameterKind == "" {
		return fmt.Errorf("signal missing parameter_kind")
	}
	if s.ZoneID == "" {
		return fmt.Errorf("signal missing zone_id")
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("signal value %v is not a finite number", s.Value)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("signal missing observed_at")
	}
	return nil
}

// Key identifies the (zone, parameter) stream a signal belongs to.
func (s Signal) Key() string {
	return s.ZoneID + "/" + s.ParameterKind
}

// ThresholdSet maps each severity to its inclusive lower cutoff for one parameter kind.
type ThresholdSet struct {
	Low      float64 `json:"low" yaml:"low"`
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Validate enforces strictly increasing cutoffs.
func (t ThresholdSet) Validate() error {
	cutoffs := []float64{t.Low, t.Medium, t.High, t.Critical}
	for i, c := range cutoffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%s cutoff is not a finite number", AllSeverities[i])
		}
		if i > 0 && c <= cutoffs[i-1] {
			return fmt.Errorf("%s cutoff %v must be greater than %s cutoff %v",
				AllSeverities[i], c, AllSeverities[i-1], cutoffs[i-1])
		}
	}
	return nil
}

// Cutoff returns the lower bound for the given level.
func (t ThresholdSet) Cutoff(level Severity) float64 {
	switch level {
	case SeverityLow:
		return t.Low
	case SeverityMedium:
		return t.Medium
	case SeverityHigh:
		return t.High
	case SeverityCritical:
		return t.Critical
	}
	return math.Inf(-1)
}
