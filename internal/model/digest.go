package model

import "time"

// DigestBatch is the ranked artifact assembled for one run.
// It is created at the start of assembly and handed to a Deliverer as a whole.
type DigestBatch struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []ScoredArticle `json:"entries"`    // Digest order (total order)
	ByTag       []Section       `json:"by_tag"`     // Entry listed under each of its tags
	BySource    []Section       `json:"by_source"`  // Entry listed under its source
	Stats       DigestStats     `json:"stats"`
}

// Section groups entry indexes under a name. Indexes point into Entries
// and keep digest order.
type Section struct {
	Name    string `json:"name"`
	Entries []int  `json:"entries"`
}

// DigestStats records what assembly dropped and why
type DigestStats struct {
	Input      int `json:"input"`      // Pairs received
	Duplicates int `json:"duplicates"` // Merged by fingerprint
	Filtered   int `json:"filtered"`   // Removed by the quality filter
	Capped     int `json:"capped"`     // Removed by the per-source cap or max items
}
