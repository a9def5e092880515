package model

import "time"

// Article is a validated news item. It is never mutated once validated;
// pipeline stages that need a smaller copy use Slim.
type Article struct {
	ID          string     `json:"id"`           // Source-native id, or the canonical URL
	URL         string     `json:"url"`          // Canonical link to the story
	Title       string     `json:"title"`        // Headline
	Body        string     `json:"body"`         // Plain-text content (HTML stripped)
	Source      string     `json:"source"`       // Source name (e.g., "hackernews", "openai-blog")
	PublishedAt time.Time  `json:"published_at"` // Publish timestamp
	FetchedAt   time.Time  `json:"fetched_at"`   // When the record was ingested
	Engagement  Engagement `json:"engagement"`   // Raw engagement counters
}

// Engagement holds raw engagement counters reported by a source
type Engagement struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
	Comments int `json:"comments"`
}

// Score returns the raw engagement score used for representative selection
func (e Engagement) Score() int {
	return e.Likes + e.Comments - e.Dislikes
}

// Slim returns a copy without the body. Used once an article's evaluation
// is cached so the full text can be released.
func (a Article) Slim() Article {
	a.Body = ""
	return a
}

// Fingerprint identifies an article's content across sources and runs
type Fingerprint string

// String implements fmt.Stringer
func (f Fingerprint) String() string {
	return string(f)
}
