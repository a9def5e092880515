// Package evaluate turns raw model output for one article into a structured
// Evaluation. Malformed or missing fields never discard the article: they are
// replaced with defaults and recorded as degraded notes.
package evaluate

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/util"
)

const (
	// QualityWeight is the share of the model quality estimate in the blend
	QualityWeight = 0.75
	// EngagementWeight is the share of normalized engagement in the blend
	EngagementWeight = 0.25
	// EngagementCeiling is the raw engagement that normalizes to 1.0
	EngagementCeiling = 1000

	// FallbackSummaryChars bounds the summary taken from the body
	FallbackSummaryChars = 300
	// DefaultTag is assigned when the model returns no usable tags
	DefaultTag = "general"
)

// Evaluator builds evaluations. The zero value is ready to use.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator creates an evaluator stamping evaluations with the wall clock
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// fields mirrors the response schema; values stay raw so one bad field does
// not fail the others
type fields struct {
	Summary        json.RawMessage `json:"summary"`
	WhyItMatters   json.RawMessage `json:"why_it_matters"`
	Tags           json.RawMessage `json:"tags"`
	RelevanceScore json.RawMessage `json:"relevance_score"`
	Topic          json.RawMessage `json:"topic"`
	TargetAudience json.RawMessage `json:"target_audience"`
	Reasoning      json.RawMessage `json:"reasoning"`
}

// Evaluate parses raw against the response schema and combines it with the
// article's engagement into a rated Evaluation
func (e *Evaluator) Evaluate(article model.Article, raw json.RawMessage) model.Evaluation {
	now := time.Now
	if e != nil && e.now != nil {
		now = e.now
	}

	var (
		f     fields
		notes []string
	)
	if err := json.Unmarshal(raw, &f); err != nil {
		notes = append(notes, note("response", errors.Wrap(err, "not a JSON object")))
		f = fields{}
	}

	ev := model.Evaluation{
		Engagement:  article.Engagement,
		EvaluatedAt: now().UTC(),
	}

	summary, err := text(f.Summary)
	if err != nil || summary == "" {
		notes = append(notes, note("summary", orMissing(err)))
		summary = fallbackSummary(article)
	}
	ev.Summary = summary

	why, err := text(f.WhyItMatters)
	if err != nil || why == "" {
		notes = append(notes, note("why_it_matters", orMissing(err)))
		why = ""
	}
	ev.WhyItMatters = why

	tags, err := tagList(f.Tags)
	if err != nil || len(tags) == 0 {
		notes = append(notes, note("tags", orMissing(err)))
		tags = []string{DefaultTag}
	}
	ev.Tags = tags

	quality, err := number(f.RelevanceScore)
	switch {
	case err != nil:
		notes = append(notes, note("relevance_score", err))
		quality = 0
	case quality < 0 || quality > 1:
		notes = append(notes, note("relevance_score",
			errors.Newf("%s out of range [0,1]", strconv.FormatFloat(quality, 'g', -1, 64))))
		quality = clamp01(quality)
	}
	ev.Quality = quality

	// optional fields are kept when well-formed, silently dropped otherwise
	ev.Topic, _ = text(f.Topic)
	ev.Audience, _ = text(f.TargetAudience)
	ev.Reasoning, _ = text(f.Reasoning)

	ev.Score = Blend(quality, article.Engagement)
	ev.Rating = Stars(ev.Score)
	if len(notes) > 0 {
		ev.Degraded = true
		ev.DegradedNotes = notes
	}
	return ev
}

// NormalizeEngagement maps raw engagement onto [0,1] on a log scale:
// ln(1+max(0, likes + comments/2 - dislikes)) / ln(1+EngagementCeiling), capped at 1
func NormalizeEngagement(eng model.Engagement) float64 {
	raw := float64(eng.Likes) + 0.5*float64(eng.Comments) - float64(eng.Dislikes)
	if raw <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(raw)/math.Log1p(EngagementCeiling))
}

// Blend combines model quality and engagement into a score in [0,1]
func Blend(quality float64, eng model.Engagement) float64 {
	return QualityWeight*clamp01(quality) + EngagementWeight*NormalizeEngagement(eng)
}

// Stars maps a blended score onto the star range
func Stars(score float64) int {
	stars := model.MinRating + int(math.Round(float64(model.MaxRating-model.MinRating)*clamp01(score)))
	return min(max(stars, model.MinRating), model.MaxRating)
}

// NormalizeTags trims, lowercases, dedupes and sorts tags, dropping empties
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func fallbackSummary(a model.Article) string {
	body := util.CleanText(a.Body)
	if body == "" {
		body = util.CleanText(a.Title)
	}
	return util.Truncate(body, FallbackSummaryChars)
}

var errMissing = errors.New("missing")

func orMissing(err error) error {
	if err != nil {
		return err
	}
	return errMissing
}

func note(field string, err error) string {
	return field + ": " + errors.Mark(err, errors.ErrSchemaValidation).Error()
}

func absent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func text(raw json.RawMessage) (string, error) {
	if absent(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.New("not a string")
	}
	return strings.TrimSpace(util.CollapseSpace(s)), nil
}

// tagList accepts a string array or a comma separated string
func tagList(raw json.RawMessage) ([]string, error) {
	if absent(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return NormalizeTags(list), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return NormalizeTags(strings.Split(s, ",")), nil
	}
	return nil, errors.New("not a list of strings")
}

// number accepts a JSON number or a numeric string
func number(raw json.RawMessage) (float64, error) {
	if absent(raw) {
		return 0, errMissing
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		// ParseFloat accepts "NaN" and "Inf", neither of which can be stored
		if v, perr := strconv.ParseFloat(strings.TrimSpace(s), 64); perr == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, nil
		}
	}
	return 0, errors.New("not a number")
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}
