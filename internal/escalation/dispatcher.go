package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/metrics"
	"github.com/aegisshield/compliance-tracker/internal/models"
	"github.com/aegisshield/compliance-tracker/internal/notification"
)

// Lifecycle event names published for escalation changes
const (
	EventCreated      = "escalation.created"
	EventAcknowledged = "escalation.acknowledged"
	EventResolved     = "escalation.resolved"
	EventReopened     = "escalation.reopened"
)

// Notifier accepts notification requests without blocking
type Notifier interface {
	Enqueue(req notification.Request) error
}

// Publisher broadcasts escalation lifecycle changes to live subscribers
type Publisher interface {
	Publish(kind string, ev models.EscalationEvent)
}

// Dispatcher owns escalation events: it creates them exactly once per
// occupancy and moves them through acknowledgment and resolution
type Dispatcher struct {
	store     Store
	notifier  Notifier
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher. publisher may be nil.
func NewDispatcher(store Store, notifier Notifier, publisher Publisher, clk clock.Clock, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		clock:     clk,
		metrics:   collector,
		logger:    logger.Named("dispatcher"),
	}
}

// Recipients merges the rule's recipients with the initiator when the rule asks for it
func Recipients(rule models.EscalationRule, initiator models.Actor) []string {
	seen := make(map[string]struct{}, len(rule.EscalateTo)+1)
	out := make([]string, 0, len(rule.EscalateTo)+1)
	add := func(r string) {
		if r == "" {
			return
		}
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	for _, r := range rule.EscalateTo {
		add(r)
	}
	if rule.NotifyOriginalInitiator {
		add(initiator.ID)
	}
	return out
}

// Dispatch creates the escalation event for the entity's current occupancy and
// requests notification. A concurrent duplicate fails with models.ErrEventExists.
// Notification failures are logged and never fail event creation.
func (d *Dispatcher) Dispatch(ctx context.Context, entity models.TrackedEntity, rule models.EscalationRule, daysPending int) (*models.EscalationEvent, error) {
	ev := &models.EscalationEvent{
		ID:             uuid.NewString(),
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		EntityID:       entity.ID,
		Status:         entity.Status,
		OccupancySince: entity.Since,
		DaysPending:    daysPending,
		Priority:       rule.Priority,
		EscalatedTo:    Recipients(rule, entity.Initiator),
		EscalatedAt:    d.clock.Now(),
	}

	if err := d.store.Insert(ctx, ev); err != nil {
		if errors.Is(err, models.ErrEventExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create escalation event: %w", err)
	}

	d.metrics.RecordEscalationCreated(string(ev.Priority))
	d.logger.Info("Escalation created",
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.String("rule_id", ev.RuleID),
		zap.String("status", ev.Status.String()),
		zap.Int("days_pending", daysPending),
		zap.Strings("escalated_to", ev.EscalatedTo))

	d.notify(ctx, ev)
	d.publish(EventCreated, *ev)
	return ev, nil
}

// notify enqueues the dispatch request and marks the event dispatched once accepted
func (d *Dispatcher) notify(ctx context.Context, ev *models.EscalationEvent) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Enqueue(requestFor(ev)); err != nil {
		d.logger.Warn("Escalation notification not dispatched",
			zap.String("event_id", ev.ID),
			zap.String("entity_id", ev.EntityID),
			zap.Error(fmt.Errorf("%w: %v", models.ErrNotificationDispatch, err)))
		return
	}

	at := d.clock.Now()
	if err := d.store.MarkDispatched(ctx, ev.ID, at); err != nil {
		d.logger.Error("Failed to mark escalation dispatched",
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return
	}
	ev.Dispatched = true
	ev.DispatchedAt = &at
}

func requestFor(ev *models.EscalationEvent) notification.Request {
	return notification.Request{
		Kind:        notification.KindEscalation,
		EventID:     ev.ID,
		Recipients:  ev.EscalatedTo,
		EntityID:    ev.EntityID,
		Status:      ev.Status.String(),
		RuleID:      ev.RuleID,
		RuleName:    ev.RuleName,
		Priority:    string(ev.Priority),
		DaysPending: ev.DaysPending,
	}
}

// Redispatch re-enqueues events whose notification was never accepted
func (d *Dispatcher) Redispatch(ctx context.Context, limit int) (int, error) {
	pending, err := d.store.Undispatched(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list undispatched escalations: %w", err)
	}

	dispatched := 0
	for i := range pending {
		ev := &pending[i]
		d.notify(ctx, ev)
		if !ev.Dispatched {
			// queue is still full; later events would fail the same way
			break
		}
		dispatched++
	}
	if dispatched > 0 {
		d.logger.Info("Redispatched escalations", zap.Int("count", dispatched))
	}
	return dispatched, nil
}

// Acknowledge records that someone has taken ownership of the escalation
func (d *Dispatcher) Acknowledge(ctx context.Context, eventID string, by models.Actor) (*models.EscalationEvent, error) {
	ev, err := d.store.Acknowledge(ctx, eventID, by.ID, d.clock.Now())
	if err != nil {
		return nil, err
	}

	d.metrics.RecordEscalationAcknowledged()
	d.logger.Info("Escalation acknowledged",
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.String("acknowledged_by", by.ID))
	d.publish(EventAcknowledged, *ev)
	return ev, nil
}

// Resolve closes the escalation. Prior acknowledgment is not required.
func (d *Dispatcher) Resolve(ctx context.Context, eventID string, by models.Actor, notes *string) (*models.EscalationEvent, error) {
	ev, err := d.store.Resolve(ctx, eventID, by.ID, notes, d.clock.Now())
	if err != nil {
		return nil, err
	}

	d.metrics.RecordEscalationResolved()
	d.logger.Info("Escalation resolved",
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.String("resolved_by", by.ID),
		zap.Bool("was_acknowledged", ev.Acknowledged))
	d.publish(EventResolved, *ev)
	return ev, nil
}

// Reopen supersedes a resolved event so its occupancy may escalate again
func (d *Dispatcher) Reopen(ctx context.Context, eventID string, by models.Actor) (*models.EscalationEvent, error) {
	if !by.IsAdmin() {
		return nil, models.ErrForbidden
	}
	ev, err := d.store.Supersede(ctx, eventID)
	if err != nil {
		return nil, err
	}

	d.metrics.RecordEscalationReopened()
	d.logger.Info("Escalation reopened",
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.String("reopened_by", by.ID))
	d.publish(EventReopened, *ev)
	return ev, nil
}

// Get returns a single event
func (d *Dispatcher) Get(ctx context.Context, eventID string) (*models.EscalationEvent, error) {
	return d.store.Get(ctx, eventID)
}

func (d *Dispatcher) publish(kind string, ev models.EscalationEvent) {
	if d.publisher != nil {
		d.publisher.Publish(kind, ev)
	}
}
