// Package digest assembles evaluated articles into a ranked, sectioned
// DigestBatch and renders it for delivery adapters.
package digest

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/model"
)

// Options tunes assembly
type Options struct {
	MaxItems                 int     // 0 = unlimited
	MaxSourceRatio           float64 // Share of the ranked list one source may take; <= 0 disables the cap
	MinSummaryChars          int
	MinQualityZeroEngagement float64
	MinTitleChars            int
}

// OptionsFromModel converts the file configuration
func OptionsFromModel(c model.DigestConfig) Options {
	return Options{
		MaxItems:                 c.MaxItems,
		MaxSourceRatio:           c.MaxSourceRatio,
		MinSummaryChars:          c.MinSummaryChars,
		MinQualityZeroEngagement: c.MinQualityZeroEngagement,
		MinTitleChars:            10,
	}
}

// genericReasoningQuality is the quality below which boilerplate reasoning
// marks an entry as filler
const genericReasoningQuality = 0.7

var placeholderPhrases = []string{
	"content not available",
	"no description available",
	"see full article for details",
	"content summary not available",
}

var genericReasoningPhrases = []string{
	"somewhat related",
	"lacks depth",
	"not directly related",
	"difficult to determine",
	"evaluation failed",
	"lacks technical depth and actionability",
	"not relevant to ai/ml practitioners",
}

// Assembler builds digest batches
type Assembler struct {
	opts   Options
	logger *zap.Logger
}

// NewAssembler creates an assembler
func NewAssembler(opts Options, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{opts: opts, logger: logger}
}

// Assemble ranks pairs into a digest. The result depends only on the input
// set, never on its order.
func (a *Assembler) Assemble(pairs []model.ScoredArticle, now time.Time) *model.DigestBatch {
	batch := &model.DigestBatch{
		GeneratedAt: now.UTC(),
		Stats:       model.DigestStats{Input: len(pairs)},
	}

	unique := representatives(pairs)
	batch.Stats.Duplicates = len(pairs) - len(unique)

	kept := make([]model.ScoredArticle, 0, len(unique))
	for _, p := range unique {
		if reason := a.reject(p); reason != "" {
			a.logger.Debug("entry filtered",
				zap.String("article_id", p.Article.ID),
				zap.String("reason", reason))
			batch.Stats.Filtered++
			continue
		}
		kept = append(kept, p)
	}

	sort.Slice(kept, func(i, j int) bool { return ranksBefore(kept[i], kept[j]) })

	entries := a.capSources(kept)
	if a.opts.MaxItems > 0 && len(entries) > a.opts.MaxItems {
		entries = entries[:a.opts.MaxItems]
	}
	batch.Stats.Capped = len(kept) - len(entries)

	batch.Entries = entries
	batch.ByTag = sections(entries, func(p model.ScoredArticle) []string { return p.Evaluation.Tags })
	batch.BySource = sections(entries, func(p model.ScoredArticle) []string { return []string{p.Article.Source} })
	return batch
}

// representatives keeps one pair per fingerprint
func representatives(pairs []model.ScoredArticle) []model.ScoredArticle {
	best := make(map[model.Fingerprint]model.ScoredArticle, len(pairs))
	for _, p := range pairs {
		cur, ok := best[p.Fingerprint]
		if !ok || richer(p, cur) {
			best[p.Fingerprint] = p
		}
	}
	out := make([]model.ScoredArticle, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// richer reports whether a carries the more complete evaluation of the same story
func richer(a, b model.ScoredArticle) bool {
	ea, eb := a.Evaluation, b.Evaluation
	if ea.Degraded != eb.Degraded {
		return !ea.Degraded
	}
	if len(ea.DegradedNotes) != len(eb.DegradedNotes) {
		return len(ea.DegradedNotes) < len(eb.DegradedNotes)
	}
	if len(ea.Tags) != len(eb.Tags) {
		return len(ea.Tags) > len(eb.Tags)
	}
	if la, lb := len(ea.Summary)+len(ea.WhyItMatters), len(eb.Summary)+len(eb.WhyItMatters); la != lb {
		return la > lb
	}
	if sa, sb := a.Article.Engagement.Score(), b.Article.Engagement.Score(); sa != sb {
		return sa > sb
	}
	return a.Article.ID < b.Article.ID
}

// ranksBefore is the digest order: rating desc, published desc, source asc, id asc
func ranksBefore(a, b model.ScoredArticle) bool {
	if a.Evaluation.Rating != b.Evaluation.Rating {
		return a.Evaluation.Rating > b.Evaluation.Rating
	}
	if !a.Article.PublishedAt.Equal(b.Article.PublishedAt) {
		return a.Article.PublishedAt.After(b.Article.PublishedAt)
	}
	if a.Article.Source != b.Article.Source {
		return a.Article.Source < b.Article.Source
	}
	return a.Article.ID < b.Article.ID
}

// reject returns why an entry is unfit for the digest, or ""
func (a *Assembler) reject(p model.ScoredArticle) string {
	summary := strings.TrimSpace(p.Evaluation.Summary)
	lower := strings.ToLower(summary)

	if len(summary) < a.opts.MinSummaryChars {
		return "summary too short"
	}
	if len(summary) < 100 && containsAny(lower, placeholderPhrases) {
		return "placeholder summary"
	}
	if p.Article.Engagement.Score() <= 0 && p.Evaluation.Quality < a.opts.MinQualityZeroEngagement {
		return "no engagement and low quality"
	}
	if p.Evaluation.Quality < genericReasoningQuality &&
		containsAny(strings.ToLower(p.Evaluation.Reasoning), genericReasoningPhrases) {
		return "generic reasoning"
	}
	if len(strings.TrimSpace(p.Article.Title)) < a.opts.MinTitleChars {
		return "title too short"
	}
	return ""
}

// capSources drops entries once their source holds max(2, len*ratio) places
func (a *Assembler) capSources(ranked []model.ScoredArticle) []model.ScoredArticle {
	if a.opts.MaxSourceRatio <= 0 {
		return ranked
	}
	limit := max(2, int(float64(len(ranked))*a.opts.MaxSourceRatio))
	counts := make(map[string]int)
	out := make([]model.ScoredArticle, 0, len(ranked))
	for _, p := range ranked {
		if counts[p.Article.Source] >= limit {
			continue
		}
		counts[p.Article.Source]++
		out = append(out, p)
	}
	return out
}

func sections(entries []model.ScoredArticle, keys func(model.ScoredArticle) []string) []model.Section {
	index := make(map[string][]int)
	for i, p := range entries {
		for _, k := range keys(p) {
			if k == "" {
				continue
			}
			index[k] = append(index[k], i)
		}
	}
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.Section, 0, len(names))
	for _, name := range names {
		out = append(out, model.Section{Name: name, Entries: index[name]})
	}
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
