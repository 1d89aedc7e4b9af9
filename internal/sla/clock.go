package sla

import (
	"time"

	"github.com/aegisshield/compliance-tracker/internal/calendar"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Clock derives SLA status from the time an entity has spent in its current status
type Clock struct {
	cal *calendar.Calendar
}

// NewClock creates a Clock over cal. A nil calendar skips weekends only.
func NewClock(cal *calendar.Calendar) *Clock {
	if cal == nil {
		cal = calendar.New()
	}
	return &Clock{cal: cal}
}

// Evaluate computes the SLA status of an entity that entered status at since.
// A missing or disabled configuration yields the not-monitored sentinel.
func (c *Clock) Evaluate(entityID string, status models.Status, since time.Time, cfg *models.SLAConfiguration, now time.Time) models.SLAStatus {
	result := models.SLAStatus{
		EntityID:       entityID,
		Status:         status,
		StartDate:      since,
		Classification: models.ClassificationNotMonitored,
		EvaluatedAt:    now,
	}
	if cfg == nil || !cfg.Enabled || cfg.TargetDays <= 0 {
		result.DaysElapsed = c.cal.DaysBetween(since, now, false)
		return result
	}

	target := c.cal.AddDays(since, cfg.TargetDays, cfg.BusinessDaysOnly)
	elapsed := c.cal.Elapsed(since, now, cfg.BusinessDaysOnly)
	daysElapsed := c.cal.DaysBetween(since, now, cfg.BusinessDaysOnly)
	percent := 100 * elapsed / float64(cfg.TargetDays)

	result.Monitored = true
	result.TargetDate = &target
	result.TargetDays = cfg.TargetDays
	result.BusinessDaysOnly = cfg.BusinessDaysOnly
	result.DaysElapsed = daysElapsed
	result.PercentComplete = percent

	result.DaysRemaining = cfg.TargetDays - daysElapsed
	if result.DaysRemaining < 0 {
		result.DaysRemaining = 0
	}

	switch {
	case now.After(target):
		result.Classification = models.ClassificationBreached
	case percent >= cfg.CriticalThresholdPercent:
		result.Classification = models.ClassificationCritical
	case percent >= cfg.WarningThresholdPercent:
		result.Classification = models.ClassificationWarning
	default:
		result.Classification = models.ClassificationOnTrack
	}

	return result
}
