package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

const statusChangeColumns = `id, entity_id, previous_status, new_status, actor_id, actor_name,
	actor_role, reason, notes, changed_at, metadata`

type statusChangeRow struct {
	ID             string    `db:"id"`
	EntityID       string    `db:"entity_id"`
	PreviousStatus string    `db:"previous_status"`
	NewStatus      string    `db:"new_status"`
	ActorID        string    `db:"actor_id"`
	ActorName      string    `db:"actor_name"`
	ActorRole      string    `db:"actor_role"`
	Reason         *string   `db:"reason"`
	Notes          *string   `db:"notes"`
	ChangedAt      time.Time `db:"changed_at"`
	Metadata       []byte    `db:"metadata"`
}

func (r statusChangeRow) record() (models.StatusChangeRecord, error) {
	rec := models.StatusChangeRecord{
		ID:             r.ID,
		EntityID:       r.EntityID,
		PreviousStatus: models.Status(r.PreviousStatus),
		NewStatus:      models.Status(r.NewStatus),
		ChangedBy:      models.Actor{ID: r.ActorID, Name: r.ActorName, Role: models.Role(r.ActorRole)},
		Reason:         r.Reason,
		Notes:          r.Notes,
		Timestamp:      r.ChangedAt.UTC(),
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &rec.Metadata); err != nil {
			return rec, fmt.Errorf("failed to decode metadata for %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

// LedgerStore is the postgres status-change ledger. Rows are only inserted.
type LedgerStore struct {
	db *sqlx.DB
}

// NewLedgerStore creates a ledger store on db
func NewLedgerStore(db *sqlx.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, rec models.StatusChangeRecord) error {
	var metadata []byte
	if rec.Metadata != nil {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = raw
	}

	query := `INSERT INTO status_changes (` + statusChangeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.EntityID, string(rec.PreviousStatus), string(rec.NewStatus),
		rec.ChangedBy.ID, rec.ChangedBy.Name, string(rec.ChangedBy.Role),
		rec.Reason, rec.Notes, rec.Timestamp, metadata)
	if err != nil {
		return fmt.Errorf("failed to append status change: %w", err)
	}
	return nil
}

func (s *LedgerStore) Last(ctx context.Context, entityID string) (models.StatusChangeRecord, error) {
	query := `SELECT ` + statusChangeColumns + ` FROM status_changes
		WHERE entity_id = $1 ORDER BY seq DESC LIMIT 1`

	var row statusChangeRow
	if err := s.db.GetContext(ctx, &row, query, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.StatusChangeRecord{}, models.ErrUnknownEntity
		}
		return models.StatusChangeRecord{}, fmt.Errorf("failed to get last status change: %w", err)
	}
	return row.record()
}

func (s *LedgerStore) History(ctx context.Context, entityID string) ([]models.StatusChangeRecord, error) {
	query := `SELECT ` + statusChangeColumns + ` FROM status_changes
		WHERE entity_id = $1 ORDER BY seq ASC`

	var rows []statusChangeRow
	if err := s.db.SelectContext(ctx, &rows, query, entityID); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrUnknownEntity
	}

	out := make([]models.StatusChangeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type trackedRow struct {
	EntityID  string    `db:"entity_id"`
	Status    string    `db:"new_status"`
	Since     time.Time `db:"changed_at"`
	ActorID   string    `db:"actor_id"`
	ActorName string    `db:"actor_name"`
	ActorRole string    `db:"actor_role"`
}

func (s *LedgerStore) Tracked(ctx context.Context, includeTerminal bool) ([]models.TrackedEntity, error) {
	query := `
		SELECT l.entity_id, l.new_status, l.changed_at, l.actor_id, l.actor_name, l.actor_role
		FROM (
			SELECT DISTINCT ON (entity_id) entity_id, new_status, changed_at, actor_id, actor_name, actor_role
			FROM status_changes ORDER BY entity_id, seq DESC
		) l
		JOIN (
			SELECT entity_id, MIN(seq) AS seq
			FROM status_changes GROUP BY entity_id
		) f ON f.entity_id = l.entity_id
		WHERE $1 OR NOT (l.new_status = ANY($2))
		ORDER BY f.seq`

	terminal := make([]string, 0, 2)
	for _, st := range models.AllStatuses {
		if st.Terminal() {
			terminal = append(terminal, string(st))
		}
	}

	var rows []trackedRow
	if err := s.db.SelectContext(ctx, &rows, query, includeTerminal, pq.Array(terminal)); err != nil {
		return nil, fmt.Errorf("failed to list tracked entities: %w", err)
	}

	out := make([]models.TrackedEntity, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TrackedEntity{
			ID:        row.EntityID,
			Status:    models.Status(row.Status),
			Since:     row.Since.UTC(),
			Initiator: models.Actor{ID: row.ActorID, Name: row.ActorName, Role: models.Role(row.ActorRole)},
		})
	}
	return out, nil
}
