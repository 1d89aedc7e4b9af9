package escalation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/calendar"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Due is an (entity, rule) pair that should escalate now
type Due struct {
	Entity      models.TrackedEntity
	Rule        models.EscalationRule
	DaysPending int
}

// Evaluator decides which entities have dwelled past a rule's threshold
type Evaluator struct {
	store  Store
	cal    *calendar.Calendar
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator that consults store for prior events
func NewEvaluator(store Store, cal *calendar.Calendar, logger *zap.Logger) *Evaluator {
	if cal == nil {
		cal = calendar.New()
	}
	return &Evaluator{store: store, cal: cal, logger: logger.Named("evaluator")}
}

// FindDueEscalations returns every enabled rule whose threshold the entity's
// current occupancy has reached and which has not yet fired for that occupancy.
// Days pending are always counted on the calendar.
func (e *Evaluator) FindDueEscalations(ctx context.Context, entities []models.TrackedEntity, rules []models.EscalationRule, now time.Time) ([]Due, error) {
	var due []Due
	for _, entity := range entities {
		for _, rule := range rules {
			if !rule.Enabled || rule.TriggerStatus != entity.Status {
				continue
			}
			days := e.cal.DaysBetween(entity.Since, now, false)
			if days < rule.DaysThreshold {
				continue
			}

			exists, err := e.store.ActiveExists(ctx, entity.ID, rule.ID, entity.Since)
			if err != nil {
				return nil, fmt.Errorf("failed to check escalation history for %s: %w", entity.ID, err)
			}
			if exists {
				continue
			}

			e.logger.Debug("Escalation due",
				zap.String("entity_id", entity.ID),
				zap.String("rule_id", rule.ID),
				zap.Int("days_pending", days))
			due = append(due, Due{Entity: entity, Rule: rule, DaysPending: days})
		}
	}
	return due, nil
}
