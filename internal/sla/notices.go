package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// NoticeStore remembers which threshold notices were already emitted
type NoticeStore interface {
	// MarkNoticed records key and reports whether it was new
	MarkNoticed(ctx context.Context, key string) (bool, error)
}

// NoticeKey identifies one threshold level reached during one status occupancy
func NoticeKey(s models.SLAStatus) string {
	return fmt.Sprintf("%s|%s|%d|%s", s.EntityID, s.Status, s.StartDate.UnixMicro(), s.Classification)
}

// NeedsNotice reports whether the status sits on a level the configuration notifies on
func NeedsNotice(cfg *models.SLAConfiguration, s models.SLAStatus) bool {
	if cfg == nil || !s.Monitored {
		return false
	}
	return cfg.NotifiesOn(s.Classification)
}

// MemoryNoticeStore keeps notice keys in process, forgetting them after ttl
type MemoryNoticeStore struct {
	seen *cache.Cache
}

// NewMemoryNoticeStore creates a notice store. A zero ttl keeps keys forever.
func NewMemoryNoticeStore(ttl time.Duration) *MemoryNoticeStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryNoticeStore{seen: cache.New(ttl, 10*time.Minute)}
}

func (m *MemoryNoticeStore) MarkNoticed(_ context.Context, key string) (bool, error) {
	// Add fails while an unexpired item holds key
	return m.seen.Add(key, struct{}{}, cache.DefaultExpiration) == nil, nil
}
