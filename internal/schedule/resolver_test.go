package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazard-alert-service/internal/models"
)

func weekdays() models.DaySet {
	return models.NewDaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
}

func dashboardProfiles() []models.ScheduleProfile {
	return []models.ScheduleProfile{
		{
			Key: models.ProfileBusinessHours, Enabled: true, Start: 8 * 60, End: 18 * 60, Days: weekdays(),
			AllowedSeverities: models.NewSeveritySet(models.AllSeverities...), EscalationDelay: models.Duration(5 * time.Minute),
		},
		{
			Key: models.ProfileAfterHours, Enabled: true, Start: 18 * 60, End: 8 * 60, Days: weekdays(),
			AllowedSeverities: models.NewSeveritySet(models.SeverityHigh, models.SeverityCritical), EscalationDelay: models.Duration(2 * time.Minute),
		},
		{
			Key: models.ProfileWeekends, Enabled: true, Start: 0, End: models.MinutesPerDay, Days: models.NewDaySet(time.Saturday, time.Sunday),
			AllowedSeverities: models.NewSeveritySet(models.SeverityCritical), EscalationDelay: models.Duration(time.Minute),
		},
		{
			Key: models.ProfileEmergency, Enabled: false, Start: 0, End: models.MinutesPerDay, Days: models.EveryDay(),
			AllowedSeverities: models.NewSeveritySet(models.SeverityCritical), EscalationDelay: 0,
		},
	}
}

func at(day, hour, minute int) time.Time {
	// 2025-01-06 is a Monday.
	return time.Date(2025, 1, 6+day, hour, minute, 0, 0, time.UTC)
}

func TestActiveProfileWindows(t *testing.T) {
	r := NewResolver(time.UTC, 10*time.Minute)
	profiles := dashboardProfiles()

	assert.Equal(t, models.ProfileBusinessHours, r.ActiveProfile(at(0, 9, 0), profiles).Key)
	assert.Equal(t, models.ProfileAfterHours, r.ActiveProfile(at(0, 20, 0), profiles).Key)
	assert.Equal(t, models.ProfileAfterHours, r.ActiveProfile(at(1, 7, 59), profiles).Key, "Tuesday early morning continues Monday after-hours")
	assert.Equal(t, models.ProfileBusinessHours, r.ActiveProfile(at(1, 8, 0), profiles).Key, "end bound is exclusive")
	assert.Equal(t, models.ProfileWeekends, r.ActiveProfile(at(5, 12, 0), profiles).Key)
	// Saturday 03:00: Friday after-hours and weekends both match, weekends has the smaller delay.
	assert.Equal(t, models.ProfileWeekends, r.ActiveProfile(at(5, 3, 0), profiles).Key)
}

func TestActiveProfileFallsBackToDefault(t *testing.T) {
	r := NewResolver(time.UTC, 7*time.Minute)
	// Monday 03:00: Sunday is not in after-hours days, weekends only covers Saturday and Sunday.
	p := r.ActiveProfile(at(0, 3, 0), dashboardProfiles())

	assert.Equal(t, models.ProfileDefault, p.Key)
	assert.True(t, p.AllowedSeverities.Contains(models.SeverityHigh))
	assert.True(t, p.AllowedSeverities.Contains(models.SeverityCritical))
	assert.False(t, p.AllowedSeverities.Contains(models.SeverityMedium))
	assert.Equal(t, 7*time.Minute, p.Delay())
}

func TestEmergencyOverridesEverything(t *testing.T) {
	r := NewResolver(time.UTC, time.Minute)
	profiles := dashboardProfiles()
	profiles[3].Enabled = true
	expires := at(0, 10, 0)
	profiles = append(profiles, models.ScheduleProfile{Key: models.ProfileSuppress, Enabled: true, ExpiresAt: &expires})

	assert.Equal(t, models.ProfileEmergency, r.ActiveProfile(at(0, 9, 0), profiles).Key)
}

func TestSuppressionUntilExpiry(t *testing.T) {
	r := NewResolver(time.UTC, time.Minute)
	expires := at(0, 10, 0)
	profiles := append(dashboardProfiles(), models.ScheduleProfile{
		Key: models.ProfileSuppress, Enabled: true, AllowedSeverities: models.SeveritySet{}, ExpiresAt: &expires,
	})

	p := r.ActiveProfile(at(0, 9, 30), profiles)
	assert.Equal(t, models.ProfileSuppress, p.Key)
	assert.Empty(t, p.AllowedSeverities)
	assert.Equal(t, models.ProfileBusinessHours, r.ActiveProfile(at(0, 10, 0), profiles).Key)
}

func TestResolutionUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	r := NewResolver(loc, time.Minute)
	// 17:00 UTC on Monday is 09:00 in the engine zone.
	assert.Equal(t, models.ProfileBusinessHours, r.ActiveProfile(at(0, 17, 0), dashboardProfiles()).Key)
}

func TestValidateRejectsAmbiguousOverlap(t *testing.T) {
	profiles := dashboardProfiles()
	require.NoError(t, Validate(profiles))

	profiles = append(profiles, models.ScheduleProfile{
		Key: "fieldCrew", Enabled: true, Start: 10 * 60, End: 12 * 60, Days: models.NewDaySet(time.Wednesday),
		AllowedSeverities: models.NewSeveritySet(models.SeverityCritical), EscalationDelay: models.Duration(5 * time.Minute),
	})
	err := Validate(profiles)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fieldCrew")
}

func TestValidateRejectsBadProfiles(t *testing.T) {
	err := Validate([]models.ScheduleProfile{
		{Key: "", Enabled: true},
		{Key: models.ProfileSuppress, Enabled: true},
		{Key: "nights", Enabled: true, Start: 0, End: 60},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key is required")
	assert.Contains(t, err.Error(), "expires_at")
	assert.Contains(t, err.Error(), "at least one day")
}

func TestNextBoundary(t *testing.T) {
	r := NewResolver(time.UTC, time.Minute)
	next, ok := r.NextBoundary(at(0, 9, 0), dashboardProfiles())
	require.True(t, ok)
	assert.Equal(t, at(0, 18, 0), next)
}
