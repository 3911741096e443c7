package models

import (
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusNew          AlertStatus = "new"
	StatusDispatching  AlertStatus = "dispatching"
	StatusAwaitingAck  AlertStatus = "awaiting_ack"
	StatusEscalated    AlertStatus = "escalated"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusAutoResolved AlertStatus = "auto_resolved"
	StatusCancelled    AlertStatus = "cancelled"
)

// Alert is the engine-owned record of a threshold crossing.
type Alert struct {
	ID                 string      `json:"id"`
	ZoneID             string      `json:"zone_id"`
	ParameterKind      string      `json:"parameter_kind"`
	Severity           Severity    `json:"severity"`
	Value              float64     `json:"value"`
	ObservedAt         time.Time   `json:"observed_at"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Status             AlertStatus `json:"status"`
	AcknowledgedBy     *string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt     *time.Time  `json:"acknowledged_at,omitempty"`
	EscalationLevel    int         `json:"escalation_level"`
	EscalationDeadline *time.Time  `json:"escalation_deadline,omitempty"`
	// Held marks a severe alert whose route was empty and which waits for a deliverable schedule.
	Held bool `json:"held,omitempty"`
	// Exhausted marks an Escalated alert that used up its escalation depth.
	Exhausted bool   `json:"exhausted,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Terminal reports whether the alert can no longer change state.
func (a Alert) Terminal() bool {
	switch a.Status {
	case StatusAcknowledged, StatusAutoResolved, StatusCancelled:
		return true
	case StatusEscalated:
		return a.Exhausted
	}
	return false
}

// StreamKey identifies the (zone, parameter) stream that raised the alert.
func (a Alert) StreamKey() string {
	return a.ZoneID + "/" + a.ParameterKind
}

// Apply returns a copy of the alert with the change applied.
func (a Alert) Apply(c StatusChange) Alert {
	a.Status = c.Status
	a.EscalationLevel = c.EscalationLevel
	a.EscalationDeadline = c.EscalationDeadline
	a.Held = c.Held
	a.Exhausted = c.Exhausted
	if c.AcknowledgedBy != nil {
		a.AcknowledgedBy = c.AcknowledgedBy
		a.AcknowledgedAt = c.AcknowledgedAt
	}
	if c.Reason != "" {
		a.Reason = c.Reason
	}
	a.UpdatedAt = c.At
	return a
}

// StatusChange is the payload committed by a compare-and-set on an alert's status.
type StatusChange struct {
	Status             AlertStatus
	EscalationLevel    int
	EscalationDeadline *time.Time
	AcknowledgedBy     *string
	AcknowledgedAt     *time.Time
	Held               bool
	Exhausted          bool
	Reason             string
	At                 time.Time
}

// AlertFilter narrows alert history queries.
type AlertFilter struct {
	ZoneID   string
	Status   AlertStatus
	Severity Severity
	Since    time.Time
	Limit    int
	Offset   int
}

// AlertStats summarises alert history over a window.
type AlertStats struct {
	Since              time.Time           `json:"since"`
	TotalAlerts        int                 `json:"total_alerts"`
	BySeverity         map[string]int      `json:"by_severity"`
	ByStatus           map[AlertStatus]int `json:"by_status"`
	Attempts           int                 `json:"delivery_attempts"`
	DeliveredAttempts  int                 `json:"delivered_attempts"`
	DeliveryRate       float64             `json:"delivery_rate"`
	ReachedAlerts      int                 `json:"reached_alerts"`
	AcknowledgedAlerts int                 `json:"acknowledged_alerts"`
	AcknowledgmentRate float64             `json:"acknowledgment_rate"`
	AvgResponseSeconds float64             `json:"avg_response_seconds"`
}
