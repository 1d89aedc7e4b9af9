package escalation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

type occupancyKey struct {
	entityID string
	ruleID   string
	since    int64
}

func keyFor(entityID, ruleID string, since time.Time) occupancyKey {
	return occupancyKey{entityID: entityID, ruleID: ruleID, since: since.UnixMicro()}
}

// MemoryStore keeps escalation events in process
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*models.EscalationEvent
	active map[occupancyKey]string
}

// NewMemoryStore creates an empty event store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*models.EscalationEvent),
		active: make(map[occupancyKey]string),
	}
}

func (m *MemoryStore) Insert(_ context.Context, ev *models.EscalationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(ev.EntityID, ev.RuleID, ev.OccupancySince)
	if _, exists := m.active[key]; exists {
		return models.ErrEventExists
	}
	stored := *ev
	m.events[ev.ID] = &stored
	m.active[key] = ev.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.EscalationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, models.ErrUnknownEvent
	}
	out := *ev
	return &out, nil
}

func (m *MemoryStore) ActiveExists(_ context.Context, entityID, ruleID string, occupancySince time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.active[keyFor(entityID, ruleID, occupancySince)]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, filter models.EventFilter) ([]models.EscalationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.EscalationEvent, 0)
	for _, ev := range m.events {
		if filter.Matches(ev) {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EscalatedAt.Equal(out[j].EscalatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EscalatedAt.After(out[j].EscalatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Undispatched(_ context.Context, limit int) ([]models.EscalationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.EscalationEvent, 0)
	for _, ev := range m.events {
		if !ev.Dispatched && !ev.Resolved && !ev.Superseded {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EscalatedAt.Before(out[j].EscalatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkDispatched(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return models.ErrUnknownEvent
	}
	if !ev.Dispatched {
		ev.Dispatched = true
		ev.DispatchedAt = &at
	}
	return nil
}

func (m *MemoryStore) Acknowledge(_ context.Context, id, by string, at time.Time) (*models.EscalationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	switch {
	case !ok:
		return nil, models.ErrUnknownEvent
	case ev.Resolved:
		return nil, models.ErrAlreadyResolved
	case ev.Acknowledged:
		return nil, models.ErrAlreadyAcknowledged
	}
	ev.Acknowledged = true
	ev.AcknowledgedBy = &by
	ev.AcknowledgedAt = &at
	out := *ev
	return &out, nil
}

func (m *MemoryStore) Resolve(_ context.Context, id, by string, notes *string, at time.Time) (*models.EscalationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	switch {
	case !ok:
		return nil, models.ErrUnknownEvent
	case ev.Resolved:
		return nil, models.ErrAlreadyResolved
	}
	ev.Resolved = true
	ev.ResolvedBy = &by
	ev.ResolvedAt = &at
	ev.Notes = notes
	out := *ev
	return &out, nil
}

func (m *MemoryStore) Supersede(_ context.Context, id string) (*models.EscalationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	switch {
	case !ok:
		return nil, models.ErrUnknownEvent
	case !ev.Resolved:
		return nil, models.ErrNotResolved
	case ev.Superseded:
		return nil, models.ErrAlreadyReopened
	}
	ev.Superseded = true
	key := keyFor(ev.EntityID, ev.RuleID, ev.OccupancySince)
	if m.active[key] == id {
		delete(m.active, key)
	}
	out := *ev
	return &out, nil
}
