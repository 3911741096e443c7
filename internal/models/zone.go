package models

import (
	"fmt"
	"strings"
	"time"
)

// AllZones is the wildcard zone id in contact membership.
const AllZones = "*"

// IsAllZones accepts the wildcard and the dashboard's "All Zones" spelling.
func IsAllZones(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case AllZones, "all", "all zones":
		return true
	}
	return false
}

// Zone is a geographic monitoring area.
type Zone struct {
	ID                    string    `json:"id" yaml:"id"`
	Name                  string    `json:"name" yaml:"name"`
	Priority              Severity  `json:"priority" yaml:"priority"`
	MonitoringEnabled     bool      `json:"monitoring_enabled" yaml:"monitoring_enabled"`
	AutoEscalationEnabled bool      `json:"auto_escalation_enabled" yaml:"auto_escalation_enabled"`
	UpdatedAt             time.Time `json:"updated_at,omitempty" yaml:"-"`
}

func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id is required")
	}
	if IsAllZones(z.ID) {
		return fmt.Errorf("zone id %q is reserved", z.ID)
	}
	if z.Name == "" {
		return fmt.Errorf("zone %s: name is required", z.ID)
	}
	return nil
}

// ContactStatus is the availability of a contact.
type ContactStatus string

const (
	ContactActive   ContactStatus = "active"
	ContactStandby  ContactStatus = "standby"
	ContactInactive ContactStatus = "inactive"
)

// Contact is a person or team that can receive alerts.
type Contact struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Role         string     `json:"role,omitempty" yaml:"role"`
	PriorityTier Severity   `json:"priority_tier" yaml:"priority_tier"`
	Channels     ChannelSet `json:"channels" yaml:"channels"`
	// RoutineChannels are extra channels the contact opted into for medium and low alerts.
	RoutineChannels ChannelSet    `json:"routine_channels,omitempty" yaml:"routine_channels"`
	Zones           []string      `json:"zones" yaml:"zones"`
	IsBackup        bool          `json:"is_backup" yaml:"is_backup"`
	Status          ContactStatus `json:"status" yaml:"status"`
	Email           string        `json:"email,omitempty" yaml:"email"`
	Phone           string        `json:"phone,omitempty" yaml:"phone"`
	ChatID          int64         `json:"chat_id,omitempty" yaml:"chat_id"`
	UpdatedAt       time.Time     `json:"updated_at,omitempty" yaml:"-"`
}

// InZone reports membership, honouring the wildcard.
func (c Contact) InZone(zoneID string) bool {
	for _, z := range c.Zones {
		if z == zoneID || IsAllZones(z) {
			return true
		}
	}
	return false
}

// Address returns the destination used for the channel.
func (c Contact) Address(channel ChannelKind) string {
	switch channel {
	case ChannelEmail:
		return c.Email
	case ChannelSMS, ChannelVoice:
		return c.Phone
	case ChannelPush:
		if c.ChatID != 0 {
			return fmt.Sprintf("%d", c.ChatID)
		}
	}
	return ""
}

func (c Contact) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("contact id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("contact %s: name is required", c.ID)
	}
	switch c.Status {
	case ContactActive, ContactStandby, ContactInactive:
	default:
		return fmt.Errorf("contact %s: unknown status %q", c.ID, c.Status)
	}
	if c.PriorityTier < SeverityLow || c.PriorityTier > SeverityCritical {
		return fmt.Errorf("contact %s: priority tier is required", c.ID)
	}
	if len(c.Zones) == 0 {
		return fmt.Errorf("contact %s: at least one zone is required", c.ID)
	}
	if c.Status == ContactInactive {
		return nil
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("contact %s: %s contacts need at least one channel", c.ID, c.Status)
	}
	for ch := range c.Channels {
		if c.Address(ch) == "" {
			return fmt.Errorf("contact %s: channel %s enabled without an address", c.ID, ch)
		}
	}
	for ch := range c.RoutineChannels {
		if !c.Channels.Contains(ch) {
			return fmt.Errorf("contact %s: routine channel %s is not enabled", c.ID, ch)
		}
	}
	return nil
}
