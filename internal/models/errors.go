package models

import "errors"

var (
	// ErrInvalidTransition is returned for no-op transitions and for
	// non-administrative transitions out of a terminal status
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownEntity is returned when an entity has no ledger records
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnknownEvent is returned when an escalation event does not exist
	ErrUnknownEvent = errors.New("unknown escalation event")

	// ErrUnknownRule is returned when an escalation rule does not exist
	ErrUnknownRule = errors.New("unknown escalation rule")

	// ErrMisconfiguredSLA is returned when configuration fails validation
	ErrMisconfiguredSLA = errors.New("misconfigured sla")

	// ErrNotificationDispatch marks a best-effort notification that could not be handed off
	ErrNotificationDispatch = errors.New("notification dispatch failed")

	ErrAlreadyAcknowledged = errors.New("escalation already acknowledged")
	ErrAlreadyResolved     = errors.New("escalation already resolved")

	// ErrNotResolved is returned when reopening an event that is still open
	ErrNotResolved = errors.New("escalation not resolved")

	ErrAlreadyReopened = errors.New("escalation already reopened")

	// ErrForbidden is returned when the actor lacks the role an operation needs
	ErrForbidden = errors.New("operation requires admin role")

	// ErrEventExists is returned by stores when an active event already covers
	// the same entity, rule and occupancy
	ErrEventExists = errors.New("escalation event already exists for occupancy")
)
