package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/aidigest/internal/validate"
	"github.com/ppiankov/aidigest/internal/worker"
)

const (
	// RedditBaseURL is the public listing endpoint
	RedditBaseURL = "https://www.reddit.com"
	// RedditName is the source name given to posts
	RedditName = "reddit"
)

// redditListing is the subset of a /hot.json listing we read
type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Domain      string  `json:"domain"`
	Subreddit   string  `json:"subreddit"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	Stickied    bool    `json:"stickied"`
	Promoted    bool    `json:"promoted"`
	Sponsored   bool    `json:"is_sponsored"`
	RemovedBy   string  `json:"removed_by_category"`
	Over18      bool    `json:"over_18"`
}

// RedditSource reads the hot listing of a set of subreddits
type RedditSource struct {
	baseURL    string
	subreddits []string
	limit      int
	fetcher    *Fetcher
	limiter    *worker.Limiter
	now        func() time.Time
}

// NewRedditSource creates the source; an empty baseURL uses the public site
func NewRedditSource(baseURL string, subreddits []string, limit int, fetcher *Fetcher, limiter *worker.Limiter) *RedditSource {
	if baseURL == "" {
		baseURL = RedditBaseURL
	}
	if limit <= 0 {
		limit = 25
	}
	return &RedditSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		subreddits: subreddits,
		limit:      min(limit, 100),
		fetcher:    fetcher,
		limiter:    limiter,
		now:        time.Now,
	}
}

// Name implements Source
func (s *RedditSource) Name() string { return RedditName }

// Fetch implements Source. A subreddit that fails to load is skipped; the
// fetch fails only when every subreddit does.
func (s *RedditSource) Fetch(ctx context.Context, window time.Duration) ([]validate.Raw, error) {
	var cutoff time.Time
	if window > 0 {
		cutoff = s.now().Add(-window)
	}

	var (
		records []validate.Raw
		lastErr error
		loaded  int
	)
	seen := make(map[string]bool)
	for _, sub := range s.subreddits {
		posts, err := s.listing(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("r/%s: %w", sub, err)
			continue
		}
		loaded++
		for _, p := range posts {
			raw, ok := s.toRaw(p, cutoff)
			if !ok || seen[raw.SourceID] {
				continue
			}
			seen[raw.SourceID] = true
			records = append(records, raw)
		}
	}
	if loaded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return records, nil
}

func (s *RedditSource) listing(ctx context.Context, subreddit string) ([]redditPost, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, RedditName); err != nil {
			return nil, err
		}
	}
	rawURL := fmt.Sprintf("%s/r/%s/hot.json?limit=%d&raw_json=1", s.baseURL, url.PathEscape(subreddit), s.limit)
	body, err := s.fetcher.GetWithRetry(ctx, rawURL, "application/json")
	if err != nil {
		return nil, err
	}
	var l redditListing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	posts := make([]redditPost, 0, len(l.Data.Children))
	for _, c := range l.Data.Children {
		posts = append(posts, c.Data)
	}
	return posts, nil
}

func (s *RedditSource) toRaw(p redditPost, cutoff time.Time) (validate.Raw, bool) {
	if p.ID == "" || p.Stickied || p.Promoted || p.Sponsored || p.RemovedBy != "" || p.Over18 {
		return validate.Raw{}, false
	}
	var published time.Time
	if p.CreatedUTC > 0 {
		published = time.Unix(int64(p.CreatedUTC), 0).UTC()
		if !cutoff.IsZero() && published.Before(cutoff) {
			return validate.Raw{}, false
		}
	}

	likes, dislikes := redditVotes(p.Score, p.UpvoteRatio)
	comments := p.NumComments
	return validate.Raw{
		SourceID:    p.ID,
		URL:         s.postURL(p),
		Title:       p.Title,
		Body:        redditBody(p),
		Source:      RedditName,
		PublishedAt: published,
		Likes:       &likes,
		Dislikes:    &dislikes,
		Comments:    &comments,
	}, true
}

// postURL prefers the linked page; self posts and relative links resolve
// against the site
func (s *RedditSource) postURL(p redditPost) string {
	switch {
	case strings.HasPrefix(p.URL, "http://"), strings.HasPrefix(p.URL, "https://"):
		return p.URL
	case strings.HasPrefix(p.URL, "/"):
		return s.baseURL + p.URL
	case p.Permalink != "":
		return s.baseURL + p.Permalink
	default:
		return p.URL
	}
}

// redditBody is the self text, or a note naming the linked domain
func redditBody(p redditPost) string {
	if text := strings.TrimSpace(p.SelfText); text != "" {
		return text
	}
	if p.Domain != "" && p.Domain != "self."+p.Subreddit && p.Domain != "i.redd.it" {
		return "Link to " + p.Domain
	}
	return ""
}

// redditVotes splits the net score into up and down votes using the upvote
// ratio: ups/(ups+downs) = ratio and ups-downs = score. Without a usable
// ratio the score counts as likes only.
func redditVotes(score int, ratio float64) (likes, dislikes int) {
	if ratio <= 0.5 || ratio > 1 || score <= 0 {
		return max(score, 0), 0
	}
	if ratio == 1 {
		return score, 0
	}
	ups := int(math.Round(float64(score) * ratio / (2*ratio - 1)))
	return ups, max(ups-score, 0)
}
