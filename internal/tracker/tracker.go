package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/escalation"
	"github.com/aegisshield/compliance-tracker/internal/keylock"
	"github.com/aegisshield/compliance-tracker/internal/ledger"
	"github.com/aegisshield/compliance-tracker/internal/metrics"
	"github.com/aegisshield/compliance-tracker/internal/models"
	"github.com/aegisshield/compliance-tracker/internal/notification"
	"github.com/aegisshield/compliance-tracker/internal/policy"
	"github.com/aegisshield/compliance-tracker/internal/sla"
)

// evaluateTimeout bounds one entity's evaluation once it has started
const evaluateTimeout = 30 * time.Second

// SweepLock keeps two instances from sweeping at the same time
type SweepLock interface {
	// Acquire returns ok=false without error when another holder owns the lock
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// SweepObserver is told when a sweep completes
type SweepObserver interface {
	MarkSweep(at time.Time)
}

// Tracker wires status changes into SLA evaluation and escalation
type Tracker struct {
	ledger     *ledger.Ledger
	policy     *policy.Service
	slaClock   *sla.Clock
	evaluator  *escalation.Evaluator
	dispatcher *escalation.Dispatcher
	notifier   escalation.Notifier
	notices    sla.NoticeStore
	lock       SweepLock
	observer   SweepObserver
	locks      *keylock.KeyedMutex
	clock      clock.Clock
	metrics    *metrics.Collector
	logger     *zap.Logger

	redispatchLimit int
}

// Deps groups the collaborators of a Tracker
type Deps struct {
	Ledger     *ledger.Ledger
	Policy     *policy.Service
	SLAClock   *sla.Clock
	Evaluator  *escalation.Evaluator
	Dispatcher *escalation.Dispatcher
	Notifier   escalation.Notifier
	Notices    sla.NoticeStore
	Lock       SweepLock
	Observer   SweepObserver
	Clock      clock.Clock
	Metrics    *metrics.Collector

	RedispatchLimit int
}

// New creates a Tracker. Notices, Lock and Observer are optional.
func New(deps Deps, logger *zap.Logger) *Tracker {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		ledger:          deps.Ledger,
		policy:          deps.Policy,
		slaClock:        deps.SLAClock,
		evaluator:       deps.Evaluator,
		dispatcher:      deps.Dispatcher,
		notifier:        deps.Notifier,
		notices:         deps.Notices,
		lock:            deps.Lock,
		observer:        deps.Observer,
		locks:           deps.Ledger.Locks(),
		clock:           clk,
		metrics:         deps.Metrics,
		logger:          logger.Named("tracker"),
		redispatchLimit: deps.RedispatchLimit,
	}
}

// ChangeResult is the outcome of a synchronously handled status change
type ChangeResult struct {
	Record      models.StatusChangeRecord `json:"record"`
	SLA         models.SLAStatus          `json:"sla"`
	Escalations []models.EscalationEvent  `json:"escalations,omitempty"`
}

// HandleStatusChange records the transition and immediately evaluates the entity
func (t *Tracker) HandleStatusChange(ctx context.Context, change models.StatusChange) (*ChangeResult, error) {
	rec, err := t.ledger.RecordTransition(ctx, change.EntityID, change.NewStatus, change.Actor, ledger.Transition{
		Reason:   change.Reason,
		Notes:    change.Notes,
		Metadata: change.Metadata,
	})
	if err != nil {
		return nil, err
	}
	t.metrics.RecordTransition(rec.NewStatus.String(), string(rec.ChangedBy.Role))

	rules, configs, err := t.loadPolicy(ctx)
	if err != nil {
		t.logger.Error("Failed to load policy after transition",
			zap.String("entity_id", change.EntityID),
			zap.Error(err))
		return &ChangeResult{Record: rec}, nil
	}
	result := &ChangeResult{Record: rec}
	evalCtx, cancel := detach(ctx)
	defer cancel()
	outcome, err := t.evaluateEntity(evalCtx, change.EntityID, rules, configs)
	if err != nil {
		// the transition stands; the next sweep evaluates the entity again
		t.logger.Error("Failed to evaluate entity after transition",
			zap.String("entity_id", change.EntityID),
			zap.Error(err))
		return result, nil
	}
	result.SLA = outcome.sla
	result.Escalations = outcome.created
	return result, nil
}

func (t *Tracker) loadPolicy(ctx context.Context) ([]models.EscalationRule, map[models.Status]*models.SLAConfiguration, error) {
	rules, err := t.policy.EnabledRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load escalation rules: %w", err)
	}
	list, err := t.policy.SLAConfigs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sla configurations: %w", err)
	}
	configs := make(map[models.Status]*models.SLAConfiguration, len(list))
	for i := range list {
		configs[list[i].Status] = &list[i]
	}
	return rules, configs, nil
}

// detach keeps ctx values but drops its cancellation, so a caller that goes
// away cannot leave an escalation created but not marked dispatched
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), evaluateTimeout)
}

type entityOutcome struct {
	sla     models.SLAStatus
	created []models.EscalationEvent
	noticed bool
}

// evaluateEntity re-reads the entity under the ledger's per-entity lock, so a
// transition of the same entity waits until evaluation and dispatch finish
func (t *Tracker) evaluateEntity(ctx context.Context, entityID string, rules []models.EscalationRule, configs map[models.Status]*models.SLAConfiguration) (entityOutcome, error) {
	unlock := t.locks.Lock(entityID)
	defer unlock()

	var out entityOutcome
	entity, err := t.ledger.Entity(ctx, entityID)
	if err != nil {
		return out, err
	}

	now := t.clock.Now()
	cfg := configs[entity.Status]
	out.sla = t.slaClock.Evaluate(entity.ID, entity.Status, entity.Since, cfg, now)

	if sla.NeedsNotice(cfg, out.sla) && t.notices != nil {
		noticed, err := t.emitNotice(ctx, entity, out.sla)
		if err != nil {
			return out, err
		}
		out.noticed = noticed
	}

	if entity.Status.Terminal() {
		return out, nil
	}

	due, err := t.evaluator.FindDueEscalations(ctx, []models.TrackedEntity{entity}, rules, now)
	if err != nil {
		return out, err
	}
	for _, d := range due {
		ev, err := t.dispatcher.Dispatch(ctx, d.Entity, d.Rule, d.DaysPending)
		if errors.Is(err, models.ErrEventExists) {
			continue
		}
		if err != nil {
			return out, err
		}
		out.created = append(out.created, *ev)
	}
	return out, nil
}

func (t *Tracker) emitNotice(ctx context.Context, entity models.TrackedEntity, status models.SLAStatus) (bool, error) {
	first, err := t.notices.MarkNoticed(ctx, sla.NoticeKey(status))
	if err != nil {
		return false, fmt.Errorf("failed to record sla notice: %w", err)
	}
	if !first || t.notifier == nil {
		return false, nil
	}

	req := notification.Request{
		Kind:            notification.KindSLANotice,
		Recipients:      []string{entity.Initiator.ID},
		EntityID:        entity.ID,
		Status:          entity.Status.String(),
		Classification:  string(status.Classification),
		PercentComplete: status.PercentComplete,
		TargetDate:      status.TargetDate,
	}
	if err := t.notifier.Enqueue(req); err != nil {
		t.logger.Warn("SLA notice not dispatched",
			zap.String("entity_id", entity.ID),
			zap.String("classification", string(status.Classification)),
			zap.Error(fmt.Errorf("%w: %v", models.ErrNotificationDispatch, err)))
		return false, nil
	}

	t.metrics.RecordSLANotice(string(status.Classification))
	t.logger.Info("SLA notice emitted",
		zap.String("entity_id", entity.ID),
		zap.String("status", entity.Status.String()),
		zap.String("classification", string(status.Classification)),
		zap.Float64("percent_complete", status.PercentComplete))
	return true, nil
}
