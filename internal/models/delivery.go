package models

import "time"

// DeliveryOutcome is the result of one delivery attempt or of a whole channel.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeFailed    DeliveryOutcome = "failed"
)

// DeliveryAttempt is an append-only audit record of one try on one channel.
type DeliveryAttempt struct {
	ID              string          `json:"id"`
	AlertID         string          `json:"alert_id"`
	ContactID       string          `json:"contact_id"`
	Channel         ChannelKind     `json:"channel"`
	AttemptNumber   int             `json:"attempt_number"`
	Outcome         DeliveryOutcome `json:"outcome"`
	Permanent       bool            `json:"permanent,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	Error           string          `json:"error,omitempty"`
	ProviderID      string          `json:"provider_id,omitempty"`
	EscalationLevel int             `json:"escalation_level"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Message is the rendered content handed to a transport.
type Message struct {
	Subject string
	Body    string
}
