package escalation

import (
	"context"
	"time"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Store persists escalation events. State changes are conditional so that
// concurrent callers cannot both acknowledge or resolve the same event.
type Store interface {
	// Insert adds ev unless a non-superseded event already exists for the
	// same entity, rule and occupancy, in which case models.ErrEventExists is returned
	Insert(ctx context.Context, ev *models.EscalationEvent) error
	Get(ctx context.Context, id string) (*models.EscalationEvent, error)
	// ActiveExists reports whether a non-superseded event covers the occupancy
	ActiveExists(ctx context.Context, entityID, ruleID string, occupancySince time.Time) (bool, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.EscalationEvent, error)
	Undispatched(ctx context.Context, limit int) ([]models.EscalationEvent, error)

	MarkDispatched(ctx context.Context, id string, at time.Time) error
	// Acknowledge fails with ErrAlreadyAcknowledged, ErrAlreadyResolved or ErrUnknownEvent
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*models.EscalationEvent, error)
	// Resolve fails with ErrAlreadyResolved or ErrUnknownEvent
	Resolve(ctx context.Context, id, by string, notes *string, at time.Time) (*models.EscalationEvent, error)
	// Supersede fails with ErrNotResolved, ErrAlreadyReopened or ErrUnknownEvent
	Supersede(ctx context.Context, id string) (*models.EscalationEvent, error)
}
