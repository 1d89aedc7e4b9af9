package notification

import (
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the bounded queue has no room
	ErrQueueFull = errors.New("notification queue full")
	// ErrQueueClosed is returned by Enqueue after Stop
	ErrQueueClosed = errors.New("notification queue closed")
)

// Kind distinguishes escalation dispatches from SLA threshold notices
type Kind string

const (
	KindEscalation Kind = "escalation"
	KindSLANotice  Kind = "sla_notice"
)

// Request asks a sink to deliver a message to recipients. The tracker
// never delivers email or SMS itself.
type Request struct {
	ID              string     `json:"id"`
	Kind            Kind       `json:"kind"`
	EventID         string     `json:"event_id,omitempty"`
	Recipients      []string   `json:"recipients"`
	EntityID        string     `json:"entity_id"`
	Status          string     `json:"status"`
	RuleID          string     `json:"rule_id,omitempty"`
	RuleName        string     `json:"rule_name,omitempty"`
	Priority        string     `json:"priority,omitempty"`
	DaysPending     int        `json:"days_pending,omitempty"`
	Classification  string     `json:"classification,omitempty"`
	PercentComplete float64    `json:"percent_complete,omitempty"`
	TargetDate      *time.Time `json:"target_date,omitempty"`
	Subject         string     `json:"subject"`
	Body            string     `json:"body"`
	CreatedAt       time.Time  `json:"created_at"`
}
