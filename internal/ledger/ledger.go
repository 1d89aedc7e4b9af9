package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/keylock"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Ledger is the append-only audit trail of status transitions and the
// authority on each entity's current status
type Ledger struct {
	store  Store
	clock  clock.Clock
	locks  *keylock.KeyedMutex
	logger *zap.Logger
}

// New creates a Ledger over store
func New(store Store, clk clock.Clock, logger *zap.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger{
		store:  store,
		clock:  clk,
		locks:  keylock.New(),
		logger: logger.Named("ledger"),
	}
}

// Locks returns the per-entity mutex guarding transitions. Holders of an
// entity's lock exclude transitions of that entity until they release it.
func (l *Ledger) Locks() *keylock.KeyedMutex {
	return l.locks
}

// Transition carries the optional parts of a status change
type Transition struct {
	Reason   *string
	Notes    *string
	Metadata map[string]interface{}
}

// RecordTransition appends a transition for entityID. The first transition
// of an entity creates it. No-op transitions, and transitions out of a
// terminal status by non-admins, fail with models.ErrInvalidTransition.
func (l *Ledger) RecordTransition(ctx context.Context, entityID string, newStatus models.Status, actor models.Actor, t Transition) (models.StatusChangeRecord, error) {
	if entityID == "" {
		return models.StatusChangeRecord{}, fmt.Errorf("%w: entity id is required", models.ErrInvalidTransition)
	}
	if !newStatus.Valid() {
		return models.StatusChangeRecord{}, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, newStatus)
	}

	unlock := l.locks.Lock(entityID)
	defer unlock()

	now := l.clock.Now()
	rec := models.StatusChangeRecord{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		NewStatus: newStatus,
		ChangedBy: actor,
		Reason:    t.Reason,
		Notes:     t.Notes,
		Metadata:  t.Metadata,
	}

	last, err := l.store.Last(ctx, entityID)
	switch {
	case errors.Is(err, models.ErrUnknownEntity):
		rec.Timestamp = now
	case err != nil:
		return models.StatusChangeRecord{}, fmt.Errorf("failed to load current status: %w", err)
	default:
		if last.NewStatus == newStatus {
			return models.StatusChangeRecord{}, fmt.Errorf("%w: %s is already %s", models.ErrInvalidTransition, entityID, newStatus)
		}
		if last.NewStatus.Terminal() && !actor.IsAdmin() {
			return models.StatusChangeRecord{}, fmt.Errorf("%w: %s is %s and only an admin may move it", models.ErrInvalidTransition, entityID, last.NewStatus)
		}
		rec.PreviousStatus = last.NewStatus
		rec.Timestamp = now
		if !rec.Timestamp.After(last.Timestamp) {
			rec.Timestamp = last.Timestamp.Add(time.Microsecond)
		}
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return models.StatusChangeRecord{}, fmt.Errorf("failed to append status change: %w", err)
	}

	l.logger.Info("Status transition recorded",
		zap.String("entity_id", entityID),
		zap.String("previous_status", rec.PreviousStatus.String()),
		zap.String("new_status", newStatus.String()),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", string(actor.Role)))

	return rec, nil
}

// CurrentStatus returns the entity's status and when it was entered
func (l *Ledger) CurrentStatus(ctx context.Context, entityID string) (models.Status, time.Time, error) {
	last, err := l.store.Last(ctx, entityID)
	if err != nil {
		return "", time.Time{}, err
	}
	return last.NewStatus, last.Timestamp, nil
}

// Entity returns the tracked view of a single entity
func (l *Ledger) Entity(ctx context.Context, entityID string) (models.TrackedEntity, error) {
	history, err := l.store.History(ctx, entityID)
	if err != nil {
		return models.TrackedEntity{}, err
	}
	last := history[len(history)-1]
	return models.TrackedEntity{
		ID:        entityID,
		Status:    last.NewStatus,
		Since:     last.Timestamp,
		Initiator: last.ChangedBy,
	}, nil
}

// History returns every transition of the entity in append order
func (l *Ledger) History(ctx context.Context, entityID string) ([]models.StatusChangeRecord, error) {
	return l.store.History(ctx, entityID)
}

// Tracked lists entities known to the ledger
func (l *Ledger) Tracked(ctx context.Context, includeTerminal bool) ([]models.TrackedEntity, error) {
	return l.store.Tracked(ctx, includeTerminal)
}
