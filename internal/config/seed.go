package config

import (
	"github.com/aegisshield/compliance-tracker/internal/models"
)

// SeedConfig lists configuration loaded at startup through the validating boundary
type SeedConfig struct {
	SLA   []SeedSLA  `mapstructure:"sla"`
	Rules []SeedRule `mapstructure:"rules"`
}

// SeedSLA is an SLA configuration as written in YAML
type SeedSLA struct {
	Status                   string  `mapstructure:"status"`
	TargetDays               int     `mapstructure:"target_days"`
	WarningThresholdPercent  float64 `mapstructure:"warning_threshold_percent"`
	CriticalThresholdPercent float64 `mapstructure:"critical_threshold_percent"`
	BusinessDaysOnly         bool    `mapstructure:"business_days_only"`
	Enabled                  bool    `mapstructure:"enabled"`
	NotifyOnWarning          bool    `mapstructure:"notify_on_warning"`
	NotifyOnCritical         bool    `mapstructure:"notify_on_critical"`
	NotifyOnBreach           bool    `mapstructure:"notify_on_breach"`
}

// SeedRule is an escalation rule as written in YAML
type SeedRule struct {
	ID                      string   `mapstructure:"id"`
	Name                    string   `mapstructure:"name"`
	Description             string   `mapstructure:"description"`
	TriggerStatus           string   `mapstructure:"trigger_status"`
	DaysThreshold           int      `mapstructure:"days_threshold"`
	EscalateTo              []string `mapstructure:"escalate_to"`
	NotifyOriginalInitiator bool     `mapstructure:"notify_original_initiator"`
	Priority                string   `mapstructure:"priority"`
	Enabled                 bool     `mapstructure:"enabled"`
}

// SLAConfigurations converts the seed into models. Validation happens when they are saved.
func (s SeedConfig) SLAConfigurations() []models.SLAConfiguration {
	out := make([]models.SLAConfiguration, 0, len(s.SLA))
	for _, c := range s.SLA {
		out = append(out, models.SLAConfiguration{
			Status:                   models.Status(c.Status),
			TargetDays:               c.TargetDays,
			WarningThresholdPercent:  c.WarningThresholdPercent,
			CriticalThresholdPercent: c.CriticalThresholdPercent,
			BusinessDaysOnly:         c.BusinessDaysOnly,
			Enabled:                  c.Enabled,
			NotifyOnWarning:          c.NotifyOnWarning,
			NotifyOnCritical:         c.NotifyOnCritical,
			NotifyOnBreach:           c.NotifyOnBreach,
		})
	}
	return out
}

// EscalationRules converts the seed into models
func (s SeedConfig) EscalationRules() []models.EscalationRule {
	out := make([]models.EscalationRule, 0, len(s.Rules))
	for _, r := range s.Rules {
		out = append(out, models.EscalationRule{
			ID:                      r.ID,
			Name:                    r.Name,
			Description:             r.Description,
			TriggerStatus:           models.Status(r.TriggerStatus),
			DaysThreshold:           r.DaysThreshold,
			EscalateTo:              models.StringArray(r.EscalateTo),
			NotifyOriginalInitiator: r.NotifyOriginalInitiator,
			Priority:                models.Priority(r.Priority),
			Enabled:                 r.Enabled,
		})
	}
	return out
}
