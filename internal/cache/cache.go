// Package cache holds article evaluations keyed by content fingerprint.
// The in-memory EvaluationCache is authoritative during a run and writes
// through to a persistent Backend so later runs can start warm.
package cache

import (
	"context"
	"time"

	"github.com/ppiankov/aidigest/internal/model"
)

// KeyPrefix namespaces persisted entries
const KeyPrefix = "aidigest:v1:"

// Backend persists cache entries between runs
type Backend interface {
	Save(ctx context.Context, entry model.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, fp model.Fingerprint) error
	LoadAll(ctx context.Context) ([]model.CacheEntry, error)
	Clear(ctx context.Context) error
	Close() error
}

// Key generates the persisted key for a fingerprint
func Key(fp model.Fingerprint) string {
	return KeyPrefix + string(fp)
}

// NopBackend keeps nothing; the cache lives only for the current process
type NopBackend struct{}

func (NopBackend) Save(context.Context, model.CacheEntry, time.Duration) error { return nil }
func (NopBackend) Delete(context.Context, model.Fingerprint) error              { return nil }
func (NopBackend) LoadAll(context.Context) ([]model.CacheEntry, error)          { return nil, nil }
func (NopBackend) Clear(context.Context) error                                  { return nil }
func (NopBackend) Close() error                                                 { return nil }
