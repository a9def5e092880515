package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/aidigest/internal/cache"
	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/llm"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/validate"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	raws []validate.Raw
	err  error
}

func (s *fakeStore) FetchRecentArticles(context.Context, time.Duration) ([]validate.Raw, error) {
	return s.raws, s.err
}

// fakeProvider answers every "ID:" line of a batch prompt with a complete
// evaluation, unless the id is marked as failing
type fakeProvider struct {
	fail  map[string]bool
	calls atomic.Int32
	mu    sync.Mutex
	seen  []string
}

func (p *fakeProvider) Name() string                     { return "fake" }
func (p *fakeProvider) IsAvailable(context.Context) bool { return true }
func (p *fakeProvider) Limits() llm.Limits {
	return llm.Limits{MaxInputTokens: 8000, RequestsPerSecond: 0, Burst: 1}
}

func (p *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls.Add(1)
	var items []map[string]any
	for _, line := range strings.Split(req.Prompt, "\n") {
		id, ok := strings.CutPrefix(line, "ID: ")
		if !ok {
			continue
		}
		p.mu.Lock()
		p.seen = append(p.seen, id)
		p.mu.Unlock()
		if p.fail[id] {
			return nil, errors.Permanent(errors.New("400 bad request"))
		}
		items = append(items, map[string]any{
			"id":              id,
			"summary":         "A new open model posts strong results on reasoning benchmarks for " + id,
			"why_it_matters":  "Cheaper inference for teams shipping assistants",
			"tags":            []string{"LLM", "Open Source"},
			"relevance_score": 0.8,
		})
	}
	raw, _ := json.Marshal(map[string]any{"items": items})
	return &llm.CompletionResponse{Text: string(raw)}, nil
}

type fakeDeliverer struct {
	err     error
	batches []*model.DigestBatch
}

func (d *fakeDeliverer) Deliver(_ context.Context, b *model.DigestBatch) error {
	if d.err != nil {
		return d.err
	}
	d.batches = append(d.batches, b)
	return nil
}

func intp(n int) *int { return &n }

func testRaws() []validate.Raw {
	hour := now.Add(-time.Hour)
	return []validate.Raw{
		{SourceID: "101", Source: "hackernews", URL: "https://news.example/llama", Title: "Meta releases a new Llama model",
			Body: "The weights ship under a permissive license with a long context window.", PublishedAt: hour, Likes: intp(50), Comments: intp(10)},
		{Source: "techblog", URL: "https://blog.example/llama-copy", Title: "Meta releases a new Llama model",
			Body: "The weights ship under a permissive license with a long context window.", PublishedAt: hour},
		{SourceID: "102", Source: "hackernews", URL: "https://news.example/gpu", Title: "GPU prices fall for the third month",
			Body: "Cloud providers cut hourly rates on accelerator instances across regions.", PublishedAt: hour, Likes: intp(20)},
		{Source: "techblog", URL: "https://blog.example/agents", Title: "Building reliable agents with tool calls",
			Body: "A walkthrough of retry loops, schemas and evaluation harnesses for agent workflows.", PublishedAt: hour},
		{Title: "no link and no id", Source: "techblog"},
	}
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Orchestrator.BatchSize = 1
	cfg.Orchestrator.MaxAttempts = 1
	cfg.Memory.ChunkSize = 2
	cfg.Dedup.MaxHamming = 0
	cfg.Digest.MaxSourceRatio = 0
	cfg.Digest.MinQualityZeroEngagement = 0
	return cfg
}

func newTestPipeline(t *testing.T, provider *fakeProvider, c *cache.EvaluationCache, memo *cache.FailureMemo, d *fakeDeliverer) *Pipeline {
	t.Helper()
	p, err := New(testConfig(), Deps{
		Store:     &fakeStore{raws: testRaws()},
		Provider:  provider,
		Cache:     c,
		Failures:  memo,
		Deliverer: d,
	})
	require.NoError(t, err)
	p.now = func() time.Time { return now }
	p.newRunID = func() string { return "run-test" }
	return p
}

func newCache(t *testing.T) *cache.EvaluationCache {
	t.Helper()
	c, err := cache.New(cache.Options{TTL: time.Hour, MaxEntries: 100})
	require.NoError(t, err)
	return c
}

func TestRun_DeliversDigest(t *testing.T) {
	provider := &fakeProvider{}
	d := &fakeDeliverer{}
	p := newTestPipeline(t, provider, newCache(t), nil, d)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-test", report.RunID)
	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 3, report.Unique)
	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, report.Delivered)
	assert.Equal(t, 3, report.Batches)
	assert.LessOrEqual(t, report.MaxInFlight, 2)

	require.Len(t, d.batches, 1)
	batch := d.batches[0]
	assert.Equal(t, "run-test", batch.RunID)
	require.Len(t, batch.Entries, 3)
	// the duplicate with engagement represents the story
	assert.Equal(t, "hackernews:101", batch.Entries[0].Article.ID)
	for _, e := range batch.Entries {
		assert.Empty(t, e.Article.Body, "delivered articles are slim")
		assert.Equal(t, []string{"llm", "open source"}, e.Evaluation.Tags)
	}
	assert.ElementsMatch(t, []string{"hackernews:101", "hackernews:102", "https://blog.example/agents"}, provider.seen)
}

func TestRun_SecondRunHitsCache(t *testing.T) {
	provider := &fakeProvider{}
	c := newCache(t)
	p := newTestPipeline(t, provider, c, nil, &fakeDeliverer{})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	calls := provider.calls.Load()

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.CacheHits)
	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, 3, report.Delivered)
	assert.Equal(t, calls, provider.calls.Load(), "cached stories must not reach the model")
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestRun_PermanentFailureIsRemembered(t *testing.T) {
	provider := &fakeProvider{fail: map[string]bool{"hackernews:102": true}}
	memo := cache.NewFailureMemo(time.Hour)
	c := newCache(t)
	p := newTestPipeline(t, provider, c, memo, &fakeDeliverer{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, map[string]int{"permanent": 1}, report.FailureReasons)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, memo.Len())
	assert.Equal(t, 0, c.Stats().InFlight, "failed claims are released")

	report, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.CacheHits)
	assert.Equal(t, 0, report.Failed)
}

func TestRun_FailureThreshold(t *testing.T) {
	provider := &fakeProvider{fail: map[string]bool{
		"hackernews:101": true, "hackernews:102": true, "https://blog.example/agents": true,
	}}
	d := &fakeDeliverer{}
	p := newTestPipeline(t, provider, newCache(t), nil, d)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFailureThreshold), "got %v", err)
	assert.Equal(t, 3, report.Failed)
	assert.Empty(t, d.batches, "a failed run delivers nothing")
}

func TestRun_DeliveryFailure(t *testing.T) {
	d := &fakeDeliverer{err: errors.New("disk full")}
	p := newTestPipeline(t, &fakeProvider{}, newCache(t), nil, d)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery), "got %v", err)
	assert.Equal(t, 0, report.Delivered)
	assert.NotNil(t, report.Digest)
}

func TestRun_StoreError(t *testing.T) {
	p, err := New(testConfig(), Deps{
		Store:     &fakeStore{err: errors.New("database is locked")},
		Provider:  &fakeProvider{},
		Deliverer: &fakeDeliverer{},
	})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch recent articles")
	assert.NotEmpty(t, report.RunID)
}

func TestRun_CanceledEvaluatesNothing(t *testing.T) {
	provider := &fakeProvider{}
	d := &fakeDeliverer{}
	p := newTestPipeline(t, provider, newCache(t), cache.NewFailureMemo(time.Hour), d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(0), provider.calls.Load())
	assert.Equal(t, 3, report.FailureReasons["canceled"])
	assert.Empty(t, d.batches)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := testConfig()
	_, err := New(cfg, Deps{Provider: &fakeProvider{}, Deliverer: &fakeDeliverer{}})
	assert.Error(t, err)
	_, err = New(cfg, Deps{Store: &fakeStore{}, Deliverer: &fakeDeliverer{}})
	assert.Error(t, err)
	_, err = New(cfg, Deps{Store: &fakeStore{}, Provider: &fakeProvider{}})
	assert.Error(t, err)
}
