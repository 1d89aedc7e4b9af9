package policy

import (
	"context"
	"sort"
	"sync"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// MemoryStore keeps configuration in process
type MemoryStore struct {
	mu    sync.RWMutex
	sla   map[models.Status]models.SLAConfiguration
	rules map[string]models.EscalationRule
}

// NewMemoryStore creates an empty configuration store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sla:   make(map[models.Status]models.SLAConfiguration),
		rules: make(map[string]models.EscalationRule),
	}
}

func (m *MemoryStore) ListSLAConfigs(_ context.Context) ([]models.SLAConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.SLAConfiguration, 0, len(m.sla))
	for _, status := range models.AllStatuses {
		if cfg, ok := m.sla[status]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetSLAConfig(_ context.Context, status models.Status) (*models.SLAConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.sla[status]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *MemoryStore) PutSLAConfig(_ context.Context, cfg models.SLAConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sla[cfg.Status] = cfg
	return nil
}

func (m *MemoryStore) DeleteSLAConfig(_ context.Context, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sla, status)
	return nil
}

func (m *MemoryStore) ListRules(_ context.Context) ([]models.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.EscalationRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetRule(_ context.Context, id string) (*models.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, models.ErrUnknownRule
	}
	return &r, nil
}

func (m *MemoryStore) PutRule(_ context.Context, rule models.EscalationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return models.ErrUnknownRule
	}
	delete(m.rules, id)
	return nil
}
