package models

import (
	"fmt"
	"strings"
)

// Status is the workflow state of a background check
type Status string

const (
	StatusNotStarted     Status = "not-started"
	StatusPendingConsent Status = "pending-consent"
	StatusInProgress     Status = "in-progress"
	StatusCompleted      Status = "completed"
	StatusIssuesFound    Status = "issues-found"
	StatusCancelled      Status = "cancelled"
)

// AllStatuses lists every status in workflow order
var AllStatuses = []Status{
	StatusNotStarted,
	StatusPendingConsent,
	StatusInProgress,
	StatusCompleted,
	StatusIssuesFound,
	StatusCancelled,
}

// ParseStatus converts a raw value into a Status, rejecting unknown values
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are expected from s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

// Role is the authority an actor acts with
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
	RoleAutomated Role = "automated"
)

// Actor identifies who caused a change
type Actor struct {
	ID   string `json:"id" db:"actor_id"`
	Name string `json:"name" db:"actor_name"`
	Role Role   `json:"role" db:"actor_role"`
}

// SystemActor is used for changes made by the engine itself
var SystemActor = Actor{ID: "automated", Name: "automated", Role: RoleAutomated}

// IsAdmin reports whether the actor may perform administrative transitions
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Classification is the SLA state of an entity's current occupancy
type Classification string

const (
	ClassificationNotMonitored Classification = "not-monitored"
	ClassificationOnTrack      Classification = "on-track"
	ClassificationWarning      Classification = "warning"
	ClassificationCritical     Classification = "critical"
	ClassificationBreached     Classification = "breached"
)

// Rank orders classifications by urgency; not-monitored ranks lowest
func (c Classification) Rank() int {
	switch c {
	case ClassificationOnTrack:
		return 1
	case ClassificationWarning:
		return 2
	case ClassificationCritical:
		return 3
	case ClassificationBreached:
		return 4
	default:
		return 0
	}
}

// Priority of an escalation rule
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)
