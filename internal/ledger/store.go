package ledger

import (
	"context"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Store persists status-change records. Implementations only append;
// records are never updated or deleted.
type Store interface {
	Append(ctx context.Context, rec models.StatusChangeRecord) error
	// Last returns models.ErrUnknownEntity when the entity has no records
	Last(ctx context.Context, entityID string) (models.StatusChangeRecord, error)
	// History returns records in append order, or models.ErrUnknownEntity
	History(ctx context.Context, entityID string) ([]models.StatusChangeRecord, error)
	// Tracked derives one TrackedEntity per entity from its first and last record
	Tracked(ctx context.Context, includeTerminal bool) ([]models.TrackedEntity, error)
}
