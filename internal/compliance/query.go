package compliance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/models"
	"github.com/aegisshield/compliance-tracker/internal/sla"
)

const snapshotKey = "dashboard"

// EntitySource reads tracked entities from the ledger
type EntitySource interface {
	Tracked(ctx context.Context, includeTerminal bool) ([]models.TrackedEntity, error)
	Entity(ctx context.Context, entityID string) (models.TrackedEntity, error)
	History(ctx context.Context, entityID string) ([]models.StatusChangeRecord, error)
}

// ConfigSource reads SLA configurations
type ConfigSource interface {
	SLAConfigs(ctx context.Context) ([]models.SLAConfiguration, error)
}

// EventSource reads escalation events
type EventSource interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.EscalationEvent, error)
}

// Dashboard summarizes SLA standing of every non-terminal entity
type Dashboard struct {
	OnTrack         int                                          `json:"on_track"`
	Warning         int                                          `json:"warning"`
	Critical        int                                          `json:"critical"`
	Breached        int                                          `json:"breached"`
	NotMonitored    int                                          `json:"not_monitored"`
	OpenEscalations int                                          `json:"open_escalations"`
	Entities        map[models.Classification][]models.SLAStatus `json:"entities"`
	GeneratedAt     time.Time                                    `json:"generated_at"`
	LastSweep       *time.Time                                   `json:"last_sweep,omitempty"`
	Stale           bool                                         `json:"stale"`
}

// Counts returns the per-classification totals keyed by classification name
func (d *Dashboard) Counts() map[string]int {
	return map[string]int{
		string(models.ClassificationOnTrack):      d.OnTrack,
		string(models.ClassificationWarning):      d.Warning,
		string(models.ClassificationCritical):     d.Critical,
		string(models.ClassificationBreached):     d.Breached,
		string(models.ClassificationNotMonitored): d.NotMonitored,
	}
}

// EntityReport is the SLA standing and audit trail of one entity
type EntityReport struct {
	SLA         models.SLAStatus            `json:"sla"`
	History     []models.StatusChangeRecord `json:"history"`
	Escalations []models.EscalationEvent    `json:"escalations"`
}

// Query is the read-only compliance surface. It never mutates engine state
// and recomputes SLA status on every call.
type Query struct {
	entities EntitySource
	configs  ConfigSource
	events   EventSource
	clock    *sla.Clock
	now      clock.Clock
	snapshot *cache.Cache
	logger   *zap.Logger

	mu        sync.RWMutex
	lastSweep *time.Time
}

// NewQuery creates a Query. snapshotTTL bounds how long the last good
// dashboard may be served while live computation fails.
func NewQuery(entities EntitySource, configs ConfigSource, events EventSource, slaClock *sla.Clock, clk clock.Clock, snapshotTTL time.Duration, logger *zap.Logger) *Query {
	if clk == nil {
		clk = clock.Real{}
	}
	if snapshotTTL <= 0 {
		snapshotTTL = cache.NoExpiration
	}
	return &Query{
		entities: entities,
		configs:  configs,
		events:   events,
		clock:    slaClock,
		now:      clk,
		snapshot: cache.New(snapshotTTL, 10*time.Minute),
		logger:   logger.Named("compliance"),
	}
}

// MarkSweep records when the last sweep completed
func (q *Query) MarkSweep(at time.Time) {
	q.mu.Lock()
	q.lastSweep = &at
	q.mu.Unlock()
}

func (q *Query) lastSweepAt() *time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.lastSweep == nil {
		return nil
	}
	at := *q.lastSweep
	return &at
}

// Dashboard recomputes SLA standing for all non-terminal entities. If live
// computation fails, the last successful dashboard is returned marked stale.
func (q *Query) Dashboard(ctx context.Context) (*Dashboard, error) {
	d, err := q.compute(ctx)
	if err == nil {
		q.snapshot.SetDefault(snapshotKey, *d)
		return d, nil
	}

	cached, ok := q.snapshot.Get(snapshotKey)
	if !ok {
		return nil, fmt.Errorf("failed to compute dashboard: %w", err)
	}
	q.logger.Warn("Serving stale dashboard", zap.Error(err))
	stale := cached.(Dashboard)
	stale.Stale = true
	stale.LastSweep = q.lastSweepAt()
	return &stale, nil
}

func (q *Query) compute(ctx context.Context) (*Dashboard, error) {
	entities, err := q.entities.Tracked(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked entities: %w", err)
	}
	configs, err := q.configIndex(ctx)
	if err != nil {
		return nil, err
	}
	open, err := q.events.List(ctx, models.EventFilter{UnresolvedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list open escalations: %w", err)
	}

	now := q.now.Now()
	d := &Dashboard{
		Entities:        make(map[models.Classification][]models.SLAStatus),
		OpenEscalations: len(open),
		GeneratedAt:     now,
		LastSweep:       q.lastSweepAt(),
	}
	for _, e := range entities {
		status := q.clock.Evaluate(e.ID, e.Status, e.Since, configs[e.Status], now)
		d.Entities[status.Classification] = append(d.Entities[status.Classification], status)
		switch status.Classification {
		case models.ClassificationOnTrack:
			d.OnTrack++
		case models.ClassificationWarning:
			d.Warning++
		case models.ClassificationCritical:
			d.Critical++
		case models.ClassificationBreached:
			d.Breached++
		default:
			d.NotMonitored++
		}
	}
	return d, nil
}

func (q *Query) configIndex(ctx context.Context) (map[models.Status]*models.SLAConfiguration, error) {
	list, err := q.configs.SLAConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sla configurations: %w", err)
	}
	index := make(map[models.Status]*models.SLAConfiguration, len(list))
	for i := range list {
		index[list[i].Status] = &list[i]
	}
	return index, nil
}

// OpenEscalations lists unresolved events, newest first
func (q *Query) OpenEscalations(ctx context.Context, filter models.EventFilter) ([]models.EscalationEvent, error) {
	filter.UnresolvedOnly = true
	return q.events.List(ctx, filter)
}

// Escalations lists events matching filter, newest first
func (q *Query) Escalations(ctx context.Context, filter models.EventFilter) ([]models.EscalationEvent, error) {
	return q.events.List(ctx, filter)
}

// EntitySLA returns a fresh SLA status for one entity with its full history
func (q *Query) EntitySLA(ctx context.Context, entityID string) (*EntityReport, error) {
	entity, err := q.entities.Entity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	history, err := q.entities.History(ctx, entityID)
	if err != nil {
		return nil, err
	}
	configs, err := q.configIndex(ctx)
	if err != nil {
		return nil, err
	}
	events, err := q.events.List(ctx, models.EventFilter{EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations for %s: %w", entityID, err)
	}

	return &EntityReport{
		SLA:         q.clock.Evaluate(entity.ID, entity.Status, entity.Since, configs[entity.Status], q.now.Now()),
		History:     history,
		Escalations: events,
	}, nil
}

// IsNotFound reports whether err means the requested entity or event does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrUnknownEntity) || errors.Is(err, models.ErrUnknownEvent)
}
