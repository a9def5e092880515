package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/aidigest/internal/model"
)

// FailureMemo remembers fingerprints whose evaluation failed permanently,
// so a run does not spend model calls on them again until the memo expires
type FailureMemo struct {
	cache *gocache.Cache
}

// FailureMemoFile is the memo's file name inside cache.dir
const FailureMemoFile = "failures.memo"

// NewFailureMemo creates a memo whose entries live for ttl
func NewFailureMemo(ttl time.Duration) *FailureMemo {
	return &FailureMemo{
		cache: gocache.New(ttl, memoCleanup(ttl)),
	}
}

func memoCleanup(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > 10*time.Minute {
		return 10 * time.Minute
	}
	return ttl
}

type memoRecord struct {
	Reason    string `json:"reason"`
	ExpiresAt int64  `json:"expires_at"` // UnixNano, 0 for never
}

// LoadFailureMemo restores a memo saved by Save. A missing file yields an
// empty memo; entries that expired while on disk are dropped.
func LoadFailureMemo(path string, ttl time.Duration) (*FailureMemo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewFailureMemo(ttl), nil
		}
		return nil, fmt.Errorf("read failure memo: %w", err)
	}

	var records map[string]memoRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode failure memo: %w", err)
	}

	now := time.Now().UnixNano()
	items := make(map[string]gocache.Item, len(records))
	for fp, rec := range records {
		if rec.ExpiresAt > 0 && rec.ExpiresAt <= now {
			continue
		}
		items[fp] = gocache.Item{Object: rec.Reason, Expiration: rec.ExpiresAt}
	}
	return &FailureMemo{
		cache: gocache.NewFrom(ttl, memoCleanup(ttl), items),
	}, nil
}

// Save writes the unexpired entries to path atomically
func (m *FailureMemo) Save(path string) error {
	items := m.cache.Items()
	records := make(map[string]memoRecord, len(items))
	for fp, it := range items {
		reason, _ := it.Object.(string)
		records[fp] = memoRecord{Reason: reason, ExpiresAt: it.Expiration}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode failure memo: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Remember records a permanent failure with its reason
func (m *FailureMemo) Remember(fp model.Fingerprint, reason string) {
	m.cache.SetDefault(string(fp), reason)
}

// Failed reports whether fp failed recently, and why
func (m *FailureMemo) Failed(fp model.Fingerprint) (string, bool) {
	if val, found := m.cache.Get(string(fp)); found {
		return val.(string), true
	}
	return "", false
}

// Forget removes a fingerprint from the memo
func (m *FailureMemo) Forget(fp model.Fingerprint) {
	m.cache.Delete(string(fp))
}

// Len returns the number of remembered failures, including expired ones not yet cleaned up
func (m *FailureMemo) Len() int {
	return m.cache.ItemCount()
}

// Clear forgets every failure
func (m *FailureMemo) Clear() {
	m.cache.Flush()
}
