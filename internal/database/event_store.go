package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

const eventColumns = `id, rule_id, rule_name, entity_id, status, occupancy_since, days_pending,
	priority, escalated_to, escalated_at, dispatched, dispatched_at, acknowledged,
	acknowledged_by, acknowledged_at, resolved, resolved_by, resolved_at, notes, superseded`

// EventStore persists escalation events in postgres. The partial unique
// index on (entity_id, rule_id, occupancy_since) enforces one live event
// per occupancy.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore creates an event store on db
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Insert(ctx context.Context, ev *models.EscalationEvent) error {
	query := `
		INSERT INTO escalation_events (` + eventColumns + `) VALUES (
			:id, :rule_id, :rule_name, :entity_id, :status, :occupancy_since, :days_pending,
			:priority, :escalated_to, :escalated_at, :dispatched, :dispatched_at, :acknowledged,
			:acknowledged_by, :acknowledged_at, :resolved, :resolved_by, :resolved_at, :notes, :superseded
		)
		ON CONFLICT (entity_id, rule_id, occupancy_since) WHERE NOT superseded DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, query, ev)
	if err != nil {
		return fmt.Errorf("failed to insert escalation event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return models.ErrEventExists
	}
	return nil
}

func (s *EventStore) Get(ctx context.Context, id string) (*models.EscalationEvent, error) {
	var ev models.EscalationEvent
	err := s.db.GetContext(ctx, &ev, `SELECT `+eventColumns+` FROM escalation_events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUnknownEvent
		}
		return nil, fmt.Errorf("failed to get escalation event: %w", err)
	}
	return &ev, nil
}

func (s *EventStore) ActiveExists(ctx context.Context, entityID, ruleID string, occupancySince time.Time) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM escalation_events
		WHERE entity_id = $1 AND rule_id = $2 AND occupancy_since = $3 AND NOT superseded
	)`

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, entityID, ruleID, occupancySince); err != nil {
		return false, fmt.Errorf("failed to check escalation event: %w", err)
	}
	return exists, nil
}

func (s *EventStore) List(ctx context.Context, filter models.EventFilter) ([]models.EscalationEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch filter.State {
	case models.EventOpen:
		conditions = append(conditions, "NOT acknowledged AND NOT resolved")
	case models.EventAcknowledged:
		conditions = append(conditions, "acknowledged AND NOT resolved")
	case models.EventResolved:
		conditions = append(conditions, "resolved")
	}
	if filter.UnresolvedOnly {
		conditions = append(conditions, "NOT resolved")
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = "+arg(filter.EntityID))
	}
	if filter.RuleID != "" {
		conditions = append(conditions, "rule_id = "+arg(filter.RuleID))
	}

	query := `SELECT ` + eventColumns + ` FROM escalation_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY escalated_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	events := make([]models.EscalationEvent, 0)
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list escalation events: %w", err)
	}
	return events, nil
}

func (s *EventStore) Undispatched(ctx context.Context, limit int) ([]models.EscalationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM escalation_events
		WHERE NOT dispatched AND NOT resolved AND NOT superseded
		ORDER BY escalated_at ASC
		LIMIT NULLIF($1, 0)`

	events := make([]models.EscalationEvent, 0)
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list undispatched events: %w", err)
	}
	return events, nil
}

func (s *EventStore) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE escalation_events
		SET dispatched = TRUE, dispatched_at = COALESCE(dispatched_at, $2)
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark event dispatched: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return models.ErrUnknownEvent
	}
	return nil
}

func (s *EventStore) Acknowledge(ctx context.Context, id, by string, at time.Time) (*models.EscalationEvent, error) {
	query := `UPDATE escalation_events
		SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1 AND NOT acknowledged AND NOT resolved
		RETURNING ` + eventColumns

	return s.transition(ctx, id, func(ev *models.EscalationEvent) error {
		if ev.Resolved {
			return models.ErrAlreadyResolved
		}
		return models.ErrAlreadyAcknowledged
	}, query, id, by, at)
}

func (s *EventStore) Resolve(ctx context.Context, id, by string, notes *string, at time.Time) (*models.EscalationEvent, error) {
	query := `UPDATE escalation_events
		SET resolved = TRUE, resolved_by = $2, resolved_at = $3, notes = $4
		WHERE id = $1 AND NOT resolved
		RETURNING ` + eventColumns

	return s.transition(ctx, id, func(*models.EscalationEvent) error {
		return models.ErrAlreadyResolved
	}, query, id, by, at, notes)
}

func (s *EventStore) Supersede(ctx context.Context, id string) (*models.EscalationEvent, error) {
	query := `UPDATE escalation_events
		SET superseded = TRUE
		WHERE id = $1 AND resolved AND NOT superseded
		RETURNING ` + eventColumns

	return s.transition(ctx, id, func(ev *models.EscalationEvent) error {
		if !ev.Resolved {
			return models.ErrNotResolved
		}
		return models.ErrAlreadyReopened
	}, query, id)
}

// transition runs a conditional update. When no row matches, the current
// row is read and passed to reject to report why.
func (s *EventStore) transition(ctx context.Context, id string, reject func(*models.EscalationEvent) error,
	query string, args ...interface{}) (*models.EscalationEvent, error) {
	var ev models.EscalationEvent
	err := s.db.GetContext(ctx, &ev, query, args...)
	if err == nil {
		return &ev, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update escalation event: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, reject(current)
}
