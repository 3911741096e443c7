package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"hazard-alert-service/internal/models"
)

// Resolver picks the schedule profile governing delivery at a given instant.
// All comparisons happen in one configured location so that every recipient
// sees the same window boundaries.
type Resolver struct {
	loc          *time.Location
	defaultDelay time.Duration
}

func NewResolver(loc *time.Location, defaultDelay time.Duration) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc, defaultDelay: defaultDelay}
}

// Location returns the resolver's time zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Default is the always-on fallback used when no configured profile matches.
func (r *Resolver) Default() models.ScheduleProfile {
	return models.ScheduleProfile{
		Key:               models.ProfileDefault,
		Enabled:           true,
		Start:             0,
		End:               models.MinutesPerDay,
		Days:              models.EveryDay(),
		AllowedSeverities: models.NewSeveritySet(models.SeverityHigh, models.SeverityCritical),
		EscalationDelay:   models.Duration(r.defaultDelay),
	}
}

// ActiveProfile resolves in fixed order: enabled emergency override, unexpired
// suppression, matching windows (smallest escalation delay wins, then key), default.
func (r *Resolver) ActiveProfile(now time.Time, profiles []models.ScheduleProfile) models.ScheduleProfile {
	for _, p := range profiles {
		if p.Enabled && p.Key == models.ProfileEmergency {
			return p
		}
	}
	for _, p := range profiles {
		if p.Enabled && p.Key == models.ProfileSuppress && !p.Expired(now) {
			return p
		}
	}

	local := now.In(r.loc)
	var matches []models.ScheduleProfile
	for _, p := range profiles {
		if !p.Enabled || p.Key == models.ProfileSuppress || p.Expired(now) {
			continue
		}
		if covers(p, local.Weekday(), local.Hour()*60+local.Minute()) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return r.Default()
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].EscalationDelay != matches[j].EscalationDelay {
			return matches[i].EscalationDelay < matches[j].EscalationDelay
		}
		return matches[i].Key < matches[j].Key
	})
	return matches[0]
}

// NextBoundary returns the next instant after now at which a window of any
// enabled profile opens or closes, or the earliest suppression expiry.
func (r *Resolver) NextBoundary(now time.Time, profiles []models.ScheduleProfile) (time.Time, bool) {
	var best time.Time
	found := false
	consider := func(t time.Time) {
		if t.After(now) && (!found || t.Before(best)) {
			best, found = t, true
		}
	}
	local := now.In(r.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		if p.ExpiresAt != nil {
			consider(*p.ExpiresAt)
		}
		if p.Key == models.ProfileSuppress || p.Key == models.ProfileEmergency || p.WholeDay() {
			continue
		}
		for d := 0; d <= 1; d++ {
			day := midnight.AddDate(0, 0, d)
			consider(day.Add(time.Duration(p.Start) * time.Minute))
			consider(day.Add(time.Duration(p.End) * time.Minute))
		}
	}
	return best, found
}

// covers reports whether minute of the given weekday lies inside the profile
// window. Windows crossing midnight belong to the weekday on which they start.
func covers(p models.ScheduleProfile, day time.Weekday, minute int) bool {
	m := models.ClockTime(minute)
	switch {
	case p.WholeDay():
		return p.Days.Contains(day)
	case p.Start < p.End:
		return m >= p.Start && m < p.End && p.Days.Contains(day)
	default:
		if m >= p.Start {
			return p.Days.Contains(day)
		}
		if m < p.End {
			return p.Days.Contains((day + 6) % 7)
		}
		return false
	}
}

// Validate checks every profile and rejects enabled window profiles that overlap
// with equal escalation delay, since those cannot be resolved deterministically.
func Validate(profiles []models.ScheduleProfile) error {
	var result *multierror.Error
	seen := map[string]bool{}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if seen[p.Key] {
			result = multierror.Append(result, fmt.Errorf("schedule %s: duplicate key", p.Key))
		}
		seen[p.Key] = true
	}

	var windows []models.ScheduleProfile
	for _, p := range profiles {
		if p.Enabled && p.Key != models.ProfileEmergency && p.Key != models.ProfileSuppress {
			windows = append(windows, p)
		}
	}
	for i := 0; i < len(windows); i++ {
		for j := i + 1; j < len(windows); j++ {
			a, b := windows[i], windows[j]
			if a.EscalationDelay != b.EscalationDelay {
				continue
			}
			if day, minute, ok := overlap(a, b); ok {
				result = multierror.Append(result, fmt.Errorf(
					"schedules %s and %s overlap on %s at %s with the same escalation delay %s",
					a.Key, b.Key, day, models.ClockTime(minute), a.Delay()))
			}
		}
	}
	return result.ErrorOrNil()
}

func overlap(a, b models.ScheduleProfile) (time.Weekday, int, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		for m := 0; m < models.MinutesPerDay; m++ {
			if covers(a, d, m) && covers(b, d, m) {
				return d, m, true
			}
		}
	}
	return 0, 0, false
}
