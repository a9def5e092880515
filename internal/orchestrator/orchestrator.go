// Package orchestrator turns a list of articles into batched model calls:
// it partitions by item count and prompt budget, runs batches on a bounded
// worker pool, and retries transient provider failures with backoff.
package orchestrator

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/llm"
	"github.com/ppiankov/aidigest/internal/memory"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/util"
	"github.com/ppiankov/aidigest/internal/worker"
)

// jitterFraction is the largest random extension of a backoff delay
const jitterFraction = 0.2

// ErrMissingFromResponse marks an article the model reply did not cover
var ErrMissingFromResponse = errors.New("article missing from model response")

// Config bounds batching, concurrency and retries
type Config struct {
	BatchSize       int
	Concurrency     int
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	MaxFailureRatio float64
	MaxTokens       int // Response budget per call
}

// ConfigFromModel converts the file configuration
func ConfigFromModel(c model.OrchestratorConfig, maxTokens int) Config {
	return Config{
		BatchSize:       c.BatchSize,
		Concurrency:     c.Concurrency,
		MaxAttempts:     c.MaxAttempts,
		BaseBackoff:     c.BaseBackoff,
		MaxBackoff:      c.MaxBackoff,
		MaxFailureRatio: c.MaxFailureRatio,
		MaxTokens:       maxTokens,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	return c
}

// Outcome is the model output for one article: raw JSON on success, or the
// error that prevented it
type Outcome struct {
	Raw      json.RawMessage
	Err      error
	Attempts int
}

// Result summarizes one Run
type Result struct {
	Outcomes    map[string]Outcome // Keyed by article ID
	Batches     int
	MaxInFlight int // Peak number of concurrent model calls
	Attempts    int // Model calls issued, retries included
	Failed      int
	Truncated   int // Articles whose body was cut to fit the prompt budget
}

// Orchestrator batches articles through a provider
type Orchestrator struct {
	provider llm.Provider
	cfg      Config
	limiter  *worker.Limiter
	budget   *memory.Budget
	logger   *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLimiter shares a limiter across runs; by default one is built from the provider limits
func WithLimiter(l *worker.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithBudget bounds the bytes held by in-flight batches
func WithBudget(b *memory.Budget) Option {
	return func(o *Orchestrator) { o.budget = b }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator for provider
func New(provider llm.Provider, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		sleep:    sleepCtx,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limiter == nil {
		lim := provider.Limits()
		o.limiter = worker.NewLimiter(lim.RequestsPerSecond, lim.Burst)
	}
	return o
}

// Run evaluates articles in batches. Every article gets an Outcome. When
// the share of failed articles exceeds MaxFailureRatio the result is
// returned together with an ErrFailureThreshold-marked error.
func (o *Orchestrator) Run(ctx context.Context, articles []model.Article) (*Result, error) {
	res := &Result{Outcomes: make(map[string]Outcome, len(articles))}
	if len(articles) == 0 {
		return res, nil
	}

	budget := o.provider.Limits().MaxInputTokens - llm.PromptOverhead()
	items := make([]llm.BatchItem, 0, len(articles))
	for _, a := range articles {
		it, cut := fitItem(toItem(a), budget)
		if cut {
			res.Truncated++
		}
		items = append(items, it)
	}

	batches := worker.Partition(items, o.cfg.BatchSize, budget, llm.ItemTokens)
	res.Batches = len(batches)
	o.inFlight.Store(0)
	o.maxInFlight.Store(0)

	o.logger.Debug("dispatching batches",
		zap.Int("articles", len(items)),
		zap.Int("batches", len(batches)),
		zap.Int("concurrency", o.cfg.Concurrency))

	pool := worker.NewPool(ctx, o.cfg.Concurrency)
	pool.Start()
	submitted := 0
	for i, b := range batches {
		if !pool.Submit(&batchJob{o: o, index: i, items: b}) {
			break
		}
		submitted++
	}
	results := pool.Wait()

	for _, r := range results {
		br := r.(*batchResult)
		res.Attempts += br.attempts
		for id, out := range br.outcomes {
			res.Outcomes[id] = out
		}
	}

	// batches never submitted because the run was canceled
	for _, b := range batches[submitted:] {
		for _, it := range b {
			res.Outcomes[it.ID] = Outcome{Err: ctxErr(ctx)}
		}
	}
	for _, it := range items {
		if _, ok := res.Outcomes[it.ID]; !ok {
			res.Outcomes[it.ID] = Outcome{Err: ctxErr(ctx)}
		}
	}

	for _, out := range res.Outcomes {
		if out.Err != nil {
			res.Failed++
		}
	}
	res.MaxInFlight = int(o.maxInFlight.Load())

	total := len(res.Outcomes)
	if total > 0 && float64(res.Failed)/float64(total) > o.cfg.MaxFailureRatio {
		return res, errors.Mark(
			errors.Newf("%d of %d evaluations failed (max ratio %.2f)", res.Failed, total, o.cfg.MaxFailureRatio),
			errors.ErrFailureThreshold)
	}
	return res, nil
}

type batchJob struct {
	o     *Orchestrator
	index int
	items []llm.BatchItem
}

type batchResult struct {
	outcomes map[string]Outcome
	attempts int
	err      error
}

func (r *batchResult) GetError() error { return r.err }

func (j *batchJob) Execute(ctx context.Context) worker.Result {
	return j.o.runBatch(ctx, j.index, j.items)
}

func (o *Orchestrator) runBatch(ctx context.Context, index int, items []llm.BatchItem) *batchResult {
	ids := make([]string, len(items))
	var bytes int64
	for i, it := range items {
		ids[i] = it.ID
		bytes += int64(len(it.ID) + len(it.Title) + len(it.Body) + len(it.Source))
	}

	held, err := o.budget.Acquire(ctx, bytes)
	if err != nil {
		return failAll(ids, err, 0)
	}
	defer o.budget.Release(held)

	return o.evaluateBatch(ctx, index, items)
}

// evaluateBatch sends items as one request. A permanent failure of a
// multi-article request is bisected until the failing articles are isolated.
// Sub-batches run under the budget already held for items.
func (o *Orchestrator) evaluateBatch(ctx context.Context, index int, items []llm.BatchItem) *batchResult {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	req := llm.CompletionRequest{
		System:    llm.SystemPrompt,
		Prompt:    llm.BuildBatchPrompt(items),
		MaxTokens: o.cfg.MaxTokens,
		JSON:      true,
	}

	for attempt := 1; ; attempt++ {
		if err := o.limiter.Wait(ctx, o.provider.Name()); err != nil {
			return failAll(ids, err, attempt-1)
		}

		resp, err := o.complete(ctx, req)
		if err == nil {
			parts, perr := llm.SplitBatchResponse(resp.Text, ids)
			if perr != nil {
				o.logger.Warn("unparseable batch response",
					zap.Int("batch", index), zap.Int("articles", len(ids)), zap.Error(perr))
				return failAll(ids, perr, attempt)
			}
			return collect(ids, parts, attempt)
		}

		if errors.IsPermanent(err) && len(items) > 1 && ctx.Err() == nil {
			o.logger.Debug("splitting rejected batch",
				zap.Int("batch", index), zap.Int("articles", len(items)), zap.Error(err))
			return o.split(ctx, index, items, attempt)
		}
		if !errors.IsTransient(err) || attempt >= o.cfg.MaxAttempts {
			o.logger.Warn("batch failed",
				zap.Int("batch", index),
				zap.Int("attempt", attempt),
				zap.String("reason", errors.Reason(err)),
				zap.Error(err))
			return failAll(ids, err, attempt)
		}

		delay := Backoff(attempt, o.cfg.BaseBackoff, o.cfg.MaxBackoff, o.jitter())
		o.logger.Debug("retrying batch",
			zap.Int("batch", index), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if err := o.sleep(ctx, delay); err != nil {
			return failAll(ids, err, attempt)
		}
	}
}

func (o *Orchestrator) split(ctx context.Context, index int, items []llm.BatchItem, spent int) *batchResult {
	mid := len(items) / 2
	left := o.evaluateBatch(ctx, index, items[:mid])
	right := o.evaluateBatch(ctx, index, items[mid:])

	out := &batchResult{outcomes: left.outcomes, attempts: spent + left.attempts + right.attempts}
	for id, oc := range right.outcomes {
		out.outcomes[id] = oc
	}
	if left.err != nil && right.err != nil {
		out.err = left.err
	}
	return out
}

func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	n := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		peak := o.maxInFlight.Load()
		if n <= peak || o.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return o.provider.Complete(ctx, req)
}

func collect(ids []string, parts map[string]json.RawMessage, attempts int) *batchResult {
	out := &batchResult{outcomes: make(map[string]Outcome, len(ids)), attempts: attempts}
	for _, id := range ids {
		if raw, ok := parts[id]; ok {
			out.outcomes[id] = Outcome{Raw: raw, Attempts: attempts}
			continue
		}
		out.outcomes[id] = Outcome{
			Err:      errors.Mark(errors.Wrapf(ErrMissingFromResponse, "article %s", id), errors.ErrSchemaValidation),
			Attempts: attempts,
		}
	}
	return out
}

func failAll(ids []string, err error, attempts int) *batchResult {
	out := &batchResult{outcomes: make(map[string]Outcome, len(ids)), attempts: attempts, err: err}
	for _, id := range ids {
		out.outcomes[id] = Outcome{Err: err, Attempts: attempts}
	}
	return out
}

// Backoff returns the wait before retry number attempt (1-based):
// min(maxDelay, base*2^(attempt-1)) extended by up to 20% according to
// jitter in [0,1)
func Backoff(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	jitter = min(max(jitter, 0), 1)
	return d + time.Duration(float64(d)*jitterFraction*jitter)
}

func toItem(a model.Article) llm.BatchItem {
	return llm.BatchItem{
		ID:         a.ID,
		Title:      a.Title,
		Body:       a.Body,
		Source:     a.Source,
		Engagement: a.Engagement,
	}
}

// fitItem truncates an item's body so the item alone fits the token budget
func fitItem(it llm.BatchItem, budget int) (llm.BatchItem, bool) {
	if budget <= 0 || llm.ItemTokens(it) <= budget {
		return it, false
	}
	empty := it
	empty.Body = ""
	maxChars := (budget-llm.ItemTokens(empty))*4 - len("...")
	if maxChars <= 0 {
		it.Body = ""
		return it, true
	}
	it.Body = util.Truncate(it.Body, maxChars)
	return it, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("batch not executed")
}
