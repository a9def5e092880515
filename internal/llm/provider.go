package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one prompt and returns the raw model text. Errors are
	// marked transient or permanent so callers can decide whether to retry.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Limits reports the per-request and rate limits the caller must respect
	Limits() Limits

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is one prompt sent to a provider
type CompletionRequest struct {
	System    string
	Prompt    string
	Model     string // Overrides the configured model when set
	MaxTokens int    // Response budget; 0 uses the configured value
	JSON      bool   // Ask the provider for JSON output where supported
}

// CompletionResponse is the provider's reply
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Limits describes what a provider accepts
type Limits struct {
	MaxInputTokens    int     // Prompt budget per request
	RequestsPerSecond float64 // Sustained request rate; 0 = unlimited
	Burst             int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// MaxInputTokens bounds the prompt of one request
	MaxInputTokens int

	RequestsPerSecond float64
	Burst             int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:          "ollama",
		Timeout:           120 * time.Second,
		MaxTokens:         2000,
		MaxInputTokens:    6000,
		RequestsPerSecond: 2,
		Burst:             2,
	}
}

func (c Config) limits() Limits {
	l := Limits{
		MaxInputTokens:    c.MaxInputTokens,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
	if l.MaxInputTokens <= 0 {
		l.MaxInputTokens = 6000
	}
	if l.Burst <= 0 {
		l.Burst = 1
	}
	return l
}

// SystemPrompt frames every evaluation request
const SystemPrompt = `You are an expert AI researcher and engineer curating a technical AI news digest.

Score relevance_score in [0,1]:
- 0.7-1.0: new models, technical tutorials, architecture papers, benchmarks, deployment guides, novel techniques
- 0.4-0.6: industry news with technical implications, tool announcements, research summaries
- 0.0-0.3: general hype, non-technical discussion, basic introductions, opinion pieces

Use precise scores such as 0.34 or 0.78 rather than round numbers.
Respond with JSON only.`

// BatchItem is one article rendered into a batch prompt
type BatchItem struct {
	ID         string
	Title      string
	Body       string
	Source     string
	Engagement model.Engagement
}

// BuildBatchPrompt renders items into one prompt asking for a JSON array
// of per-item objects keyed by the item id, wrapped in an "items" object so
// providers with a JSON-object output mode can enforce it
func BuildBatchPrompt(items []BatchItem) string {
	var b strings.Builder
	b.WriteString("Evaluate each article below for a technical GenAI/LLM newsletter.\n\n")
	b.WriteString("For each article consider technical depth, actionability, novelty and relevance to AI/ML.\n\n")

	for i, it := range items {
		fmt.Fprintf(&b, "ARTICLE %d\nID: %s\nTITLE: %s\nSOURCE: %s\nENGAGEMENT: %d likes, %d comments\nCONTENT: %s\n\n",
			i+1, it.ID, it.Title, it.Source, it.Engagement.Likes, it.Engagement.Comments, it.Body)
	}

	b.WriteString(`Return a JSON object whose "items" array holds exactly one object per article, in any order:
{"items": [{"id": "<article id>", "summary": "2-3 sentence summary", "why_it_matters": "one sentence",
  "tags": ["short", "lowercase", "tags"], "relevance_score": 0.0,
  "topic": "main topic", "target_audience": "who should read it", "reasoning": "why this score"}]}`)
	return b.String()
}

// PromptOverhead is the estimated token cost of an empty batch prompt
func PromptOverhead() int {
	return EstimateTokens(SystemPrompt) + EstimateTokens(BuildBatchPrompt(nil))
}

// ItemTokens is the estimated token cost one item adds to a batch prompt
func ItemTokens(it BatchItem) int {
	return EstimateTokens(BuildBatchPrompt([]BatchItem{it})) - EstimateTokens(BuildBatchPrompt(nil)) + 1
}

// EstimateTokens approximates token count as one token per four characters
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// SplitBatchResponse extracts the JSON object for each requested id from a
// batch reply. Accepts a bare array, an object with an "items" array, or a
// single object when one id was requested, optionally wrapped in a code
// fence or prose. Ids absent from the reply are absent from the map.
func SplitBatchResponse(raw string, ids []string) (map[string]json.RawMessage, error) {
	elems, err := batchElements(raw, len(ids))
	if err != nil {
		return nil, errors.Permanent(errors.Mark(err, errors.ErrSchemaValidation))
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	out := make(map[string]json.RawMessage, len(ids))
	var unkeyed []int
	for i, el := range elems {
		var head struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(el, &head); err != nil {
			continue
		}
		id := rawID(head.ID)
		if id == "" {
			unkeyed = append(unkeyed, i)
			continue
		}
		if wanted[id] {
			if _, dup := out[id]; !dup {
				out[id] = el
			}
		}
	}

	// positional fallback, only for replies that dropped every id; ids
	// may come back in any order, so a partly keyed reply says nothing
	// about where the unkeyed elements belong
	if len(elems) == len(ids) && len(unkeyed) == len(elems) {
		for _, i := range unkeyed {
			if _, ok := out[ids[i]]; !ok {
				out[ids[i]] = elems[i]
			}
		}
	}
	return out, nil
}

func batchElements(raw string, n int) ([]json.RawMessage, error) {
	text := stripFence(raw)

	arrStart, start := strings.Index(text, "["), strings.Index(text, "{")
	if arrStart >= 0 && (start < 0 || arrStart < start) {
		end := strings.LastIndex(text, "]")
		if end < arrStart {
			return nil, errors.New("unterminated JSON array in response")
		}
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(text[arrStart:end+1]), &arr); err != nil {
			return nil, errors.Wrap(err, "decode response")
		}
		return arr, nil
	}

	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON in response")
	}
	obj := []byte(text[start : end+1])

	var wrapped struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(obj, &wrapped); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if len(wrapped.Items) > 0 {
		return wrapped.Items, nil
	}
	if n == 1 {
		return []json.RawMessage{obj}, nil
	}
	return nil, errors.New("response object has no items")
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// classifyStatus marks an HTTP failure as transient (rate limits, timeouts,
// server errors) or permanent (everything else)
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return errors.Transient(err)
	default:
		return errors.Permanent(err)
	}
}

// classifyTransport marks a failure to reach the provider as transient.
// Caller cancellation is returned unmarked so it is never retried.
func classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), err.Error())
	}
	return errors.Transient(err)
}

func statusError(status int, detail string) error {
	return errors.Newf("API error (%s): %s", strconv.Itoa(status), detail)
}
