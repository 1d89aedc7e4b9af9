package ledger

import (
	"context"
	"sync"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// MemoryStore keeps the ledger in process
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string][]models.StatusChangeRecord
}

// NewMemoryStore creates an empty in-memory ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]models.StatusChangeRecord)}
}

func (s *MemoryStore) Append(_ context.Context, rec models.StatusChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.EntityID]; !ok {
		s.order = append(s.order, rec.EntityID)
	}
	s.records[rec.EntityID] = append(s.records[rec.EntityID], rec)
	return nil
}

func (s *MemoryStore) Last(_ context.Context, entityID string) (models.StatusChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[entityID]
	if len(recs) == 0 {
		return models.StatusChangeRecord{}, models.ErrUnknownEntity
	}
	return recs[len(recs)-1], nil
}

func (s *MemoryStore) History(_ context.Context, entityID string) ([]models.StatusChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[entityID]
	if len(recs) == 0 {
		return nil, models.ErrUnknownEntity
	}
	out := make([]models.StatusChangeRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) Tracked(_ context.Context, includeTerminal bool) ([]models.TrackedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TrackedEntity, 0, len(s.order))
	for _, id := range s.order {
		recs := s.records[id]
		last := recs[len(recs)-1]
		if last.NewStatus.Terminal() && !includeTerminal {
			continue
		}
		out = append(out, models.TrackedEntity{
			ID:        id,
			Status:    last.NewStatus,
			Since:     last.Timestamp,
			Initiator: last.ChangedBy,
		})
	}
	return out, nil
}
