package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepReport summarizes one evaluation sweep
type SweepReport struct {
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	Duration           time.Duration  `json:"duration"`
	Entities           int            `json:"entities"`
	Evaluated          int            `json:"evaluated"`
	Failed             int            `json:"failed"`
	EscalationsCreated int            `json:"escalations_created"`
	NoticesSent        int            `json:"notices_sent"`
	Redispatched       int            `json:"redispatched"`
	Classifications    map[string]int `json:"classifications"`
	Cancelled          bool           `json:"cancelled"`
	Skipped            bool           `json:"skipped"`
}

// Sweep evaluates every non-terminal entity. A failing entity is logged and
// counted without stopping the sweep. Cancellation is honored between
// entities only, so an entity in flight always finishes.
func (t *Tracker) Sweep(ctx context.Context) (*SweepReport, error) {
	begin := time.Now()
	report := &SweepReport{
		StartedAt:       t.clock.Now(),
		Classifications: make(map[string]int),
	}

	if t.lock != nil {
		release, ok, err := t.lock.Acquire(ctx)
		if err != nil {
			t.metrics.RecordSweep("error", 0, 0)
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !ok {
			t.logger.Info("Sweep skipped, another instance holds the lock")
			report.Skipped = true
			t.metrics.RecordSweep("skipped", 0, 0)
			return report, nil
		}
		defer release()
	}

	entities, err := t.ledger.Tracked(ctx, false)
	if err != nil {
		t.metrics.RecordSweep("error", 0, 0)
		return nil, fmt.Errorf("failed to list tracked entities: %w", err)
	}
	rules, configs, err := t.loadPolicy(ctx)
	if err != nil {
		t.metrics.RecordSweep("error", 0, 0)
		return nil, err
	}
	report.Entities = len(entities)

	for _, entity := range entities {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		evalCtx, cancel := detach(ctx)
		outcome, err := t.evaluateEntity(evalCtx, entity.ID, rules, configs)
		cancel()
		if err != nil {
			report.Failed++
			t.logger.Error("Failed to evaluate entity",
				zap.String("entity_id", entity.ID),
				zap.Error(err))
			continue
		}
		report.Evaluated++
		report.EscalationsCreated += len(outcome.created)
		if outcome.noticed {
			report.NoticesSent++
		}
		if outcome.sla.Status.Terminal() {
			continue
		}
		report.Classifications[string(outcome.sla.Classification)]++
	}

	if !report.Cancelled {
		n, err := t.dispatcher.Redispatch(ctx, t.redispatchLimit)
		if err != nil {
			t.logger.Error("Failed to redispatch escalations", zap.Error(err))
		}
		report.Redispatched = n
	}

	report.FinishedAt = t.clock.Now()
	report.Duration = time.Since(begin)

	outcome := "success"
	switch {
	case report.Cancelled:
		outcome = "cancelled"
	case report.Failed > 0:
		outcome = "partial"
	}
	t.metrics.RecordSweep(outcome, report.Duration, report.Failed)
	if !report.Cancelled {
		t.metrics.SetClassificationCounts(report.Classifications)
		if t.observer != nil {
			t.observer.MarkSweep(report.FinishedAt)
		}
	}

	t.logger.Info("Sweep completed",
		zap.String("outcome", outcome),
		zap.Int("entities", report.Entities),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("failed", report.Failed),
		zap.Int("escalations_created", report.EscalationsCreated),
		zap.Int("notices_sent", report.NoticesSent),
		zap.Int("redispatched", report.Redispatched),
		zap.Duration("duration", report.Duration))

	return report, nil
}
