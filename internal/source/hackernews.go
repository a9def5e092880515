package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/aidigest/internal/validate"
	"github.com/ppiankov/aidigest/internal/worker"
)

const (
	// HackerNewsBaseURL is the public Firebase endpoint
	HackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"
	// HackerNewsName is the source name given to stories
	HackerNewsName = "hackernews"

	hnItemConcurrency = 8
	hnDiscussionURL   = "https://news.ycombinator.com/item?id="
)

// hnItem is the subset of the item schema we read
type hnItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Time        int64  `json:"time"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// HackerNewsSource reads the current top stories
type HackerNewsSource struct {
	baseURL string
	limit   int
	fetcher *Fetcher
	limiter *worker.Limiter
	now     func() time.Time
}

// NewHackerNewsSource creates the source; an empty baseURL uses the public API
func NewHackerNewsSource(baseURL string, limit int, fetcher *Fetcher, limiter *worker.Limiter) *HackerNewsSource {
	if baseURL == "" {
		baseURL = HackerNewsBaseURL
	}
	if limit <= 0 {
		limit = 100
	}
	return &HackerNewsSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		limit:   limit,
		fetcher: fetcher,
		limiter: limiter,
		now:     time.Now,
	}
}

// Name implements Source
func (s *HackerNewsSource) Name() string { return HackerNewsName }

// Fetch implements Source. Score maps to likes and descendants to comments.
// Items that fail to load are skipped.
func (s *HackerNewsSource) Fetch(ctx context.Context, window time.Duration) ([]validate.Raw, error) {
	var ids []int64
	if err := s.getJSON(ctx, s.baseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}
	if len(ids) > s.limit {
		ids = ids[:s.limit]
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = s.now().Add(-window)
	}

	var (
		mu      sync.Mutex
		records = make([]validate.Raw, 0, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hnItemConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			var it hnItem
			if err := s.getJSON(gctx, fmt.Sprintf("%s/item/%d.json", s.baseURL, id), &it); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			raw, ok := s.toRaw(it, cutoff)
			if !ok {
				return nil
			}
			mu.Lock()
			records = append(records, raw)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *HackerNewsSource) toRaw(it hnItem, cutoff time.Time) (validate.Raw, bool) {
	if it.ID == 0 || it.Dead || it.Deleted || it.Type != "story" {
		return validate.Raw{}, false
	}
	published := time.Unix(it.Time, 0).UTC()
	if it.Time > 0 && !cutoff.IsZero() && published.Before(cutoff) {
		return validate.Raw{}, false
	}
	if it.Time == 0 {
		published = time.Time{}
	}

	link := it.URL
	if link == "" {
		link = hnDiscussionURL + strconv.FormatInt(it.ID, 10)
	}
	score, comments := it.Score, it.Descendants
	return validate.Raw{
		SourceID:    strconv.FormatInt(it.ID, 10),
		URL:         link,
		Title:       it.Title,
		Body:        it.Text,
		Source:      HackerNewsName,
		PublishedAt: published,
		Likes:       &score,
		Comments:    &comments,
	}, true
}

func (s *HackerNewsSource) getJSON(ctx context.Context, rawURL string, v any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, HackerNewsName); err != nil {
			return err
		}
	}
	body, err := s.fetcher.GetWithRetry(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
