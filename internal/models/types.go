package models

import (
	"time"
)

// StatusChangeRecord is an immutable fact about one status transition
type StatusChangeRecord struct {
	ID             string                 `json:"id"`
	EntityID       string                 `json:"entity_id"`
	PreviousStatus Status                 `json:"previous_status,omitempty"`
	NewStatus      Status                 `json:"new_status"`
	ChangedBy      Actor                  `json:"changed_by"`
	Reason         *string                `json:"reason,omitempty"`
	Notes          *string                `json:"notes,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// TrackedEntity is a background check as seen through its ledger
type TrackedEntity struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Since     time.Time `json:"since"`
	// Initiator is the actor whose transition began the current occupancy
	Initiator Actor     `json:"initiator"`
}

// SLAConfiguration is the dwell-time policy for one monitored status
type SLAConfiguration struct {
	Status                   Status    `json:"status" gorm:"primaryKey;type:text" validate:"required,status"`
	TargetDays               int       `json:"target_days" validate:"gt=0"`
	WarningThresholdPercent  float64   `json:"warning_threshold_percent" validate:"gt=0"`
	CriticalThresholdPercent float64   `json:"critical_threshold_percent" validate:"gtfield=WarningThresholdPercent"`
	BusinessDaysOnly         bool      `json:"business_days_only"`
	Enabled                  bool      `json:"enabled"`
	NotifyOnWarning          bool      `json:"notify_on_warning"`
	NotifyOnCritical         bool      `json:"notify_on_critical"`
	NotifyOnBreach           bool      `json:"notify_on_breach"`
	UpdatedBy                string    `json:"updated_by,omitempty"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// TableName maps the configuration to its table
func (SLAConfiguration) TableName() string {
	return "sla_configurations"
}

// NotifiesOn reports whether reaching c should emit an SLA notice
func (cfg SLAConfiguration) NotifiesOn(c Classification) bool {
	switch c {
	case ClassificationWarning:
		return cfg.NotifyOnWarning
	case ClassificationCritical:
		return cfg.NotifyOnCritical
	case ClassificationBreached:
		return cfg.NotifyOnBreach
	}
	return false
}

// SLAStatus is derived on every query and never persisted
type SLAStatus struct {
	EntityID         string         `json:"entity_id"`
	Status           Status         `json:"status"`
	Monitored        bool           `json:"monitored"`
	StartDate        time.Time      `json:"start_date"`
	TargetDate       *time.Time     `json:"target_date,omitempty"`
	TargetDays       int            `json:"target_days,omitempty"`
	DaysElapsed      int            `json:"days_elapsed"`
	DaysRemaining    int            `json:"days_remaining"`
	PercentComplete  float64        `json:"percent_complete"`
	Classification   Classification `json:"classification"`
	BusinessDaysOnly bool           `json:"business_days_only"`
	EvaluatedAt      time.Time      `json:"evaluated_at"`
}

// EscalationRule says who is told once an entity dwells too long in a status
type EscalationRule struct {
	ID                      string      `json:"id" gorm:"primaryKey;type:text"`
	Name                    string      `json:"name" validate:"required,max=200"`
	Description             string      `json:"description"`
	TriggerStatus           Status      `json:"trigger_status" gorm:"type:text" validate:"required,status"`
	DaysThreshold           int         `json:"days_threshold" validate:"gt=0"`
	EscalateTo              StringArray `json:"escalate_to" gorm:"type:text[]" validate:"required_without=NotifyOriginalInitiator,dive,required"`
	NotifyOriginalInitiator bool        `json:"notify_original_initiator"`
	Priority                Priority    `json:"priority" gorm:"type:text" validate:"required,oneof=low medium high urgent"`
	Enabled                 bool        `json:"enabled"`
	UpdatedBy               string      `json:"updated_by,omitempty"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
}

// TableName maps the rule to its table
func (EscalationRule) TableName() string {
	return "escalation_rules"
}

// EscalationEvent records that one rule fired for one status occupancy
type EscalationEvent struct {
	ID             string      `json:"id" db:"id"`
	RuleID         string      `json:"rule_id" db:"rule_id"`
	RuleName       string      `json:"rule_name" db:"rule_name"`
	EntityID       string      `json:"entity_id" db:"entity_id"`
	Status         Status      `json:"status" db:"status"`
	OccupancySince time.Time   `json:"occupancy_since" db:"occupancy_since"`
	DaysPending    int         `json:"days_pending" db:"days_pending"`
	Priority       Priority    `json:"priority" db:"priority"`
	EscalatedTo    StringArray `json:"escalated_to" db:"escalated_to"`
	EscalatedAt    time.Time   `json:"escalated_at" db:"escalated_at"`
	Dispatched     bool        `json:"dispatched" db:"dispatched"`
	DispatchedAt   *time.Time  `json:"dispatched_at,omitempty" db:"dispatched_at"`
	Acknowledged   bool        `json:"acknowledged" db:"acknowledged"`
	AcknowledgedBy *string     `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	Resolved       bool        `json:"resolved" db:"resolved"`
	ResolvedBy     *string     `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	Notes          *string     `json:"notes,omitempty" db:"notes"`
	Superseded     bool        `json:"superseded" db:"superseded"`
}

// State names the lifecycle position of the event
func (e *EscalationEvent) State() EventState {
	switch {
	case e.Resolved:
		return EventResolved
	case e.Acknowledged:
		return EventAcknowledged
	default:
		return EventOpen
	}
}

// EventState is the lifecycle position of an escalation event
type EventState string

const (
	EventOpen         EventState = "open"
	EventAcknowledged EventState = "acknowledged"
	EventResolved     EventState = "resolved"
)

// ParseEventState accepts open, acknowledged or resolved
func ParseEventState(raw string) (EventState, bool) {
	switch EventState(raw) {
	case EventOpen, EventAcknowledged, EventResolved:
		return EventState(raw), true
	}
	return "", false
}

// EventFilter narrows escalation event listings
type EventFilter struct {
	State          EventState `json:"state,omitempty"`
	UnresolvedOnly bool       `json:"unresolved_only,omitempty"`
	EntityID       string     `json:"entity_id,omitempty"`
	RuleID         string     `json:"rule_id,omitempty"`
	Limit          int        `json:"limit,omitempty"`
}

// Matches reports whether ev passes the filter
func (f EventFilter) Matches(ev *EscalationEvent) bool {
	if f.State != "" && ev.State() != f.State {
		return false
	}
	if f.UnresolvedOnly && ev.Resolved {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	if f.RuleID != "" && ev.RuleID != f.RuleID {
		return false
	}
	return true
}

// StatusChange is a workflow-reported transition request
type StatusChange struct {
	EntityID  string                 `json:"entity_id"`
	NewStatus Status                 `json:"new_status"`
	Actor     Actor                  `json:"actor"`
	Reason    *string                `json:"reason,omitempty"`
	Notes     *string                `json:"notes,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
