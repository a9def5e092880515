package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/cache"
	"github.com/ppiankov/aidigest/internal/logging"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/source"
	"github.com/ppiankov/aidigest/internal/util"
	"github.com/ppiankov/aidigest/internal/worker"
)

func newLogger(cfg *model.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if verbose && (level == "" || level == "info") {
		level = "debug"
	}
	return logging.New(level, cfg.Logging.JSON)
}

// openBackend returns the persistence layer named by cache.backend
func openBackend(ctx context.Context, cfg model.CacheConfig) (cache.Backend, error) {
	if !cfg.Enabled {
		return cache.NopBackend{}, nil
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "disk":
		return cache.NewDiskBackend(cfg.Dir), nil
	case "redis":
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisBackend(client), nil
	case "none", "memory":
		return cache.NopBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want disk, redis or none)", cfg.Backend)
	}
}

// openCache builds the evaluation cache and warms it from its backend. A
// backend that cannot be read degrades to an empty cache.
func openCache(ctx context.Context, cfg model.CacheConfig, logger *zap.Logger) (*cache.EvaluationCache, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.Options{
		TTL:        cfg.TTL,
		MaxEntries: cfg.MaxEntries,
		MaxBytes:   cfg.MaxBytes,
		Backend:    backend,
		Logger:     logger.Named("cache"),
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	n, err := c.Load(ctx)
	if err != nil {
		logger.Warn("cache not loaded; starting empty", zap.Error(err))
	} else if n > 0 {
		logger.Debug("cache loaded", zap.Int("entries", n))
	}
	return c, nil
}

// failureMemoPath is where the failure memo lives between runs; empty when
// the cache is disabled
func failureMemoPath(cfg model.CacheConfig) string {
	if !cfg.Enabled || cfg.Dir == "" {
		return ""
	}
	return filepath.Join(cfg.Dir, cache.FailureMemoFile)
}

// openFailureMemo restores the failure memo. An unreadable memo is replaced
// with an empty one.
func openFailureMemo(cfg model.CacheConfig, logger *zap.Logger) *cache.FailureMemo {
	path := failureMemoPath(cfg)
	if path == "" {
		return cache.NewFailureMemo(cfg.FailureTTL)
	}
	memo, err := cache.LoadFailureMemo(path, cfg.FailureTTL)
	if err != nil {
		logger.Warn("failure memo not loaded; starting empty", zap.String("path", path), zap.Error(err))
		return cache.NewFailureMemo(cfg.FailureTTL)
	}
	return memo
}

func saveFailureMemo(memo *cache.FailureMemo, cfg model.CacheConfig, logger *zap.Logger) {
	path := failureMemoPath(cfg)
	if path == "" {
		return
	}
	if err := memo.Save(path); err != nil {
		logger.Warn("failure memo not saved", zap.String("path", path), zap.Error(err))
	}
}

// buildSources turns the sources config into fetchers sharing one HTTP
// client, robots checker and per-host limiter
func buildSources(cfg model.SourcesConfig, proxy model.LLMConfig) []source.Source {
	client := util.NewHTTPClient(cfg.Timeout, proxy.HTTPProxy, proxy.HTTPSProxy)
	fetcher := source.NewFetcher(client, cfg.Timeout, cfg.UserAgent, 0)
	robots := util.NewRobotsChecker(cfg.UserAgent, client, cfg.Timeout)
	limiter := worker.NewLimiter(1, 2)

	var sources []source.Source
	for _, feed := range cfg.RSS {
		name := feed.Name
		if name == "" {
			name = feed.URL
		}
		sources = append(sources, source.NewRSSSource(name, feed.URL, fetcher, robots, limiter))
	}
	if cfg.HackerNews {
		sources = append(sources, source.NewHackerNewsSource(source.HackerNewsBaseURL, cfg.HNLimit, fetcher, limiter))
	}
	if len(cfg.Reddit) > 0 {
		sources = append(sources, source.NewRedditSource(source.RedditBaseURL, cfg.Reddit, cfg.RedditLimit, fetcher, limiter))
	}
	return sources
}

// feedsFromFile reads one feed URL per line; each feed is named after its host
func feedsFromFile(path string) ([]model.FeedConfig, error) {
	urls, err := worker.ReadURLsFromFile(path)
	if err != nil {
		return nil, err
	}
	feeds := make([]model.FeedConfig, 0, len(urls))
	for _, u := range urls {
		feeds = append(feeds, model.FeedConfig{Name: feedName(u), URL: u})
	}
	return feeds, nil
}

func feedName(rawURL string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimPrefix(name, "www.")
}

func banner(title string) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  %s\n", title)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
}
