package routing

import (
	"sort"

	"hazard-alert-service/internal/models"
)

// Route is one (contact, channel) pair of a delivery plan.
type Route struct {
	Contact models.Contact
	Channel models.ChannelKind
}

var (
	criticalOrder = []models.ChannelKind{models.ChannelSMS, models.ChannelVoice, models.ChannelPush, models.ChannelEmail}
	highOrder     = []models.ChannelKind{models.ChannelSMS, models.ChannelPush, models.ChannelEmail}
	routineOrder  = []models.ChannelKind{models.ChannelEmail, models.ChannelPush, models.ChannelSMS, models.ChannelVoice}
)

// Router computes who gets an alert and over which channels.
type Router struct {
	criticalOnlyTiers models.SeveritySet
}

// NewRouter takes the contact tiers that only receive High and Critical alerts.
func NewRouter(criticalOnlyTiers models.SeveritySet) *Router {
	if criticalOnlyTiers == nil {
		criticalOnlyTiers = models.SeveritySet{}
	}
	return &Router{criticalOnlyTiers: criticalOnlyTiers}
}

// Route returns the primary delivery plan, or nil when the profile does not
// allow the alert's severity.
func (r *Router) Route(alert models.Alert, profile models.ScheduleProfile, contacts []models.Contact) []Route {
	if !profile.AllowedSeverities.Contains(alert.Severity) {
		return nil
	}
	return r.Recipients(alert, contacts)
}

// Recipients returns the primary plan regardless of the active schedule.
func (r *Router) Recipients(alert models.Alert, contacts []models.Contact) []Route {
	var candidates []models.Contact
	for _, c := range contacts {
		if c.IsBackup || c.Status != models.ContactActive || !c.InZone(alert.ZoneID) {
			continue
		}
		if alert.Severity < models.SeverityHigh && r.criticalOnlyTiers.Contains(c.PriorityTier) {
			continue
		}
		candidates = append(candidates, c)
	}
	return plan(alert.Severity, candidates)
}

// RouteBackups returns the escalation plan: backup contacts for the zone that are
// active or on standby. Escalation ignores the schedule's severity filter.
func (r *Router) RouteBackups(alert models.Alert, contacts []models.Contact) []Route {
	var candidates []models.Contact
	for _, c := range contacts {
		if !c.IsBackup || !c.InZone(alert.ZoneID) {
			continue
		}
		if c.Status != models.ContactActive && c.Status != models.ContactStandby {
			continue
		}
		candidates = append(candidates, c)
	}
	return plan(alert.Severity, candidates)
}

func plan(severity models.Severity, contacts []models.Contact) []Route {
	sort.SliceStable(contacts, func(i, j int) bool {
		if contacts[i].PriorityTier != contacts[j].PriorityTier {
			return contacts[i].PriorityTier > contacts[j].PriorityTier
		}
		return contacts[i].ID < contacts[j].ID
	})
	var routes []Route
	for _, c := range contacts {
		for _, ch := range Channels(severity, c) {
			routes = append(routes, Route{Contact: c, Channel: ch})
		}
	}
	return routes
}

// Channels returns the contact's channels for a severity in preference order.
func Channels(severity models.Severity, c models.Contact) []models.ChannelKind {
	var out []models.ChannelKind
	switch {
	case severity >= models.SeverityCritical:
		for _, ch := range criticalOrder {
			if c.Channels.Contains(ch) {
				out = append(out, ch)
			}
		}
	case severity == models.SeverityHigh:
		for _, ch := range highOrder {
			if c.Channels.Contains(ch) {
				out = append(out, ch)
			}
		}
	default:
		for _, ch := range routineOrder {
			if !c.Channels.Contains(ch) {
				continue
			}
			if ch == models.ChannelEmail || c.RoutineChannels.Contains(ch) {
				out = append(out, ch)
			}
		}
	}
	return out
}

// Group splits a flat plan into per-contact channel lists, keeping order.
func Group(routes []Route) []ContactPlan {
	var plans []ContactPlan
	index := map[string]int{}
	for _, r := range routes {
		i, ok := index[r.Contact.ID]
		if !ok {
			i = len(plans)
			index[r.Contact.ID] = i
			plans = append(plans, ContactPlan{Contact: r.Contact})
		}
		plans[i].Channels = append(plans[i].Channels, r.Channel)
	}
	return plans
}

// ContactPlan is the ordered channel list for one recipient.
type ContactPlan struct {
	Contact  models.Contact
	Channels []models.ChannelKind
}
