package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/util"
	"github.com/ppiankov/aidigest/internal/validate"
	"github.com/ppiankov/aidigest/internal/worker"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"

// ErrDisallowed is returned when robots.txt forbids fetching a feed
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RSSSource reads one RSS or Atom feed
type RSSSource struct {
	name    string
	feedURL string
	fetcher *Fetcher
	robots  *util.RobotsChecker
	limiter *worker.Limiter
	now     func() time.Time
}

// NewRSSSource creates a feed source. robots and limiter may be nil.
func NewRSSSource(name, feedURL string, fetcher *Fetcher, robots *util.RobotsChecker, limiter *worker.Limiter) *RSSSource {
	return &RSSSource{
		name:    name,
		feedURL: feedURL,
		fetcher: fetcher,
		robots:  robots,
		limiter: limiter,
		now:     time.Now,
	}
}

// Name implements Source
func (s *RSSSource) Name() string { return s.name }

// Fetch implements Source. Items without a publish time are kept and
// stamped by validation.
func (s *RSSSource) Fetch(ctx context.Context, window time.Duration) ([]validate.Raw, error) {
	var crawlDelay time.Duration
	if s.robots != nil {
		allowed, delay, err := s.robots.Check(ctx, s.feedURL)
		if err != nil {
			return nil, fmt.Errorf("robots check for %s: %w", s.name, err)
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", s.feedURL, ErrDisallowed)
		}
		crawlDelay = delay
	}
	if s.limiter != nil {
		u, err := url.Parse(s.feedURL)
		if err != nil {
			return nil, fmt.Errorf("parse feed url: %w", err)
		}
		if err := s.limiter.WaitWithDelay(ctx, u.Host, crawlDelay); err != nil {
			return nil, err
		}
	}

	body, err := s.fetcher.GetWithRetry(ctx, s.feedURL, feedAccept)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.name, err)
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.name, err)
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = s.now().Add(-window)
	}

	records := make([]validate.Raw, 0, len(feed.Items))
	for _, item := range feed.Items {
		var pub time.Time
		if item.PublishedParsed != nil {
			pub = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			pub = *item.UpdatedParsed
		}
		if !pub.IsZero() && !cutoff.IsZero() && pub.Before(cutoff) {
			continue
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}

		records = append(records, validate.Raw{
			URL:         item.Link,
			Title:       item.Title,
			Body:        content,
			Source:      s.name,
			PublishedAt: pub,
		})
	}
	return records, nil
}
