// Package source ingests article records from RSS/Atom feeds and the
// Hacker News API.
package source

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/aidigest/internal/validate"
)

// fetchAllLimit bounds how many sources are fetched at once
const fetchAllLimit = 4

// Source yields raw article records published within a window
type Source interface {
	Name() string
	Fetch(ctx context.Context, window time.Duration) ([]validate.Raw, error)
}

// FetchResult collects the records of every source that succeeded
type FetchResult struct {
	Records []validate.Raw
	Errors  map[string]error // Keyed by source name
}

// FetchAll runs sources concurrently. A failing source is logged and
// skipped; only cancellation of ctx stops the others.
func FetchAll(ctx context.Context, sources []Source, window time.Duration, logger *zap.Logger) FetchResult {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		mu     sync.Mutex
		result = FetchResult{Errors: make(map[string]error)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchAllLimit)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			start := time.Now()
			records, err := src.Fetch(gctx, window)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("source failed", zap.String("source", src.Name()), zap.Error(err))
				result.Errors[src.Name()] = err
				return nil
			}
			logger.Debug("source fetched",
				zap.String("source", src.Name()),
				zap.Int("records", len(records)),
				zap.Duration("took", time.Since(start)))
			result.Records = append(result.Records, records...)
			return nil
		})
	}
	_ = g.Wait()
	return result
}
