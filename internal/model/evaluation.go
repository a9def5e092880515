package model

import "time"

const (
	// MinRating is the lowest star rating an evaluation can carry
	MinRating = 1
	// MaxRating is the highest star rating an evaluation can carry
	MaxRating = 5
)

// Evaluation is the structured result of scoring one article.
// It is immutable after creation; re-evaluating an article yields a new value.
type Evaluation struct {
	Summary       string     `json:"summary"`
	WhyItMatters  string     `json:"why_it_matters"`
	Rating        int        `json:"rating"`                    // Star rating in [MinRating, MaxRating]
	Score         float64    `json:"score"`                     // Blended quality/engagement score in [0,1]
	Quality       float64    `json:"quality"`                   // Model-estimated quality in [0,1]
	Tags          []string   `json:"tags"`                      // Sorted, lowercased, non-empty
	Topic         string     `json:"topic,omitempty"`           // Optional model topic
	Audience      string     `json:"audience,omitempty"`        // Optional target audience
	Reasoning     string     `json:"reasoning,omitempty"`       // Optional model reasoning
	Engagement    Engagement `json:"engagement"`                // Engagement snapshot at evaluation time
	Degraded      bool       `json:"degraded"`                  // True when any field fell back to a default
	DegradedNotes []string   `json:"degraded_notes,omitempty"` // Which fields were defaulted and why
	EvaluatedAt   time.Time  `json:"evaluated_at"`
}

// Clone returns a deep copy so callers cannot alias cached slices
func (e Evaluation) Clone() Evaluation {
	out := e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.DegradedNotes != nil {
		out.DegradedNotes = append([]string(nil), e.DegradedNotes...)
	}
	return out
}

// CacheEntry associates a fingerprint with its evaluation and bookkeeping times
type CacheEntry struct {
	Fingerprint    Fingerprint `json:"fingerprint"`
	Evaluation     Evaluation  `json:"evaluation"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
}

// ScoredArticle pairs an article with its evaluation
type ScoredArticle struct {
	Article     Article     `json:"article"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Evaluation  Evaluation  `json:"evaluation"`
}
