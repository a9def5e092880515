package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

func TestBuildBatchPrompt(t *testing.T) {
	prompt := BuildBatchPrompt([]BatchItem{
		{ID: "hackernews:1", Title: "First", Body: "body one", Source: "hackernews", Engagement: model.Engagement{Likes: 5}},
		{ID: "rss:2", Title: "Second", Body: "body two", Source: "rss"},
	})

	for _, want := range []string{"ID: hackernews:1", "ID: rss:2", "TITLE: Second", "5 likes", `"items"`, "relevance_score"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestItemTokens(t *testing.T) {
	small := ItemTokens(BatchItem{ID: "a", Body: "short"})
	large := ItemTokens(BatchItem{ID: "a", Body: strings.Repeat("x", 4000)})
	if large-small < 990 {
		t.Errorf("expected ~1000 extra tokens, got %d", large-small)
	}
	if PromptOverhead() <= 0 {
		t.Error("expected positive prompt overhead")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2, "ééééé": 2}
	for in, want := range tests {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSplitBatchResponse(t *testing.T) {
	ids := []string{"a", "b", "c"}

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"bare array", `[{"id":"a","summary":"x"},{"id":"b"}]`, []string{"a", "b"}},
		{"items object", `{"items":[{"id":"c","tags":["x"]},{"id":"zzz"}]}`, []string{"c"}},
		{"code fence", "```json\n{\"items\":[{\"id\":\"a\"},{\"id\":\"a\"}]}\n```", []string{"a"}},
		{"prose around", `Here you go: [{"id":"b"}] hope this helps`, []string{"b"}},
		{"numeric ids", `[{"id":1}]`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitBatchResponse(tt.raw, ids)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %v", len(got), len(tt.want), got)
			}
			for _, id := range tt.want {
				if _, ok := got[id]; !ok {
					t.Errorf("missing id %q", id)
				}
			}
		})
	}
}

func TestSplitBatchResponse_SingleObject(t *testing.T) {
	got, err := SplitBatchResponse(`{"summary":"only one","tags":["ai"]}`, []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(got["x"], &v); err != nil || v.Summary != "only one" {
		t.Errorf("expected positional single object, got %s (%v)", got["x"], err)
	}
}

func TestSplitBatchResponse_Positional(t *testing.T) {
	ids := []string{"a", "b", "c"}

	got, err := SplitBatchResponse(`[{"summary":"first"},{"summary":"second"},{"summary":"third"}]`, ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || !strings.Contains(string(got["b"]), "second") {
		t.Errorf("unkeyed reply not mapped by position: %v", got)
	}

	// one keyed element out of order makes the rest unplaceable
	got, err = SplitBatchResponse(`[{"id":"c","summary":"third"},{"summary":"first"},{"summary":"second"}]`, ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !strings.Contains(string(got["c"]), "third") {
		t.Errorf("mixed reply: got %v, want only c", got)
	}
}

func TestSplitBatchResponse_Unparseable(t *testing.T) {
	for _, raw := range []string{"", "no json here", `[{"id":"a"`, `{"id": }`} {
		_, err := SplitBatchResponse(raw, []string{"a", "b"})
		if err == nil {
			t.Errorf("%q: expected error", raw)
			continue
		}
		if !errors.IsPermanent(err) || !errors.Is(err, errors.ErrSchemaValidation) {
			t.Errorf("%q: expected permanent schema error, got %v", raw, err)
		}
	}
}

func TestConfigFromModel_EnvKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	cfg := ConfigFromModel(model.LLMConfig{Provider: "anthropic"})
	if cfg.APIKey != "from-env" {
		t.Errorf("expected env key, got %q", cfg.APIKey)
	}

	cfg = ConfigFromModel(model.LLMConfig{Provider: "anthropic", APIKey: "explicit"})
	if cfg.APIKey != "explicit" {
		t.Errorf("explicit key must win, got %q", cfg.APIKey)
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "bogus"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewProvider(Config{}); err == nil {
		t.Error("expected error for empty provider")
	}
	p, err := NewProvider(Config{Provider: "Ollama", Model: "m"})
	if err != nil || p.Name() != "ollama" {
		t.Errorf("expected ollama provider, got %v, %v", p, err)
	}
}
