// Package pipeline drives one digest build: read recent articles, validate,
// deduplicate, evaluate cache misses through the orchestrator, assemble and
// deliver.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/cache"
	"github.com/ppiankov/aidigest/internal/deliver"
	"github.com/ppiankov/aidigest/internal/digest"
	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/evaluate"
	"github.com/ppiankov/aidigest/internal/fingerprint"
	"github.com/ppiankov/aidigest/internal/llm"
	"github.com/ppiankov/aidigest/internal/memory"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/orchestrator"
	"github.com/ppiankov/aidigest/internal/validate"
)

// ArticleStore is the read side of the article store
type ArticleStore interface {
	FetchRecentArticles(ctx context.Context, window time.Duration) ([]validate.Raw, error)
}

// Deps are the collaborators a pipeline is built from. A nil Cache gets an
// unbounded in-memory cache; a nil Failures disables the failure memo.
type Deps struct {
	Store     ArticleStore
	Provider  llm.Provider
	Cache     *cache.EvaluationCache
	Failures  *cache.FailureMemo
	Deliverer deliver.Deliverer
	Logger    *zap.Logger
}

// RunReport summarizes a run. It is returned even when the run fails.
type RunReport struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Fetched        int // Records read from the store
	Rejected       int // Records that failed validation
	Duplicates     int // Articles merged into another story
	Unique         int // Stories after deduplication
	CacheHits      int
	Waited         int // Stories resolved by another in-flight computation
	Evaluated      int // Stories evaluated by the model this run
	Degraded       int // Evaluations with at least one defaulted field
	Failed         int
	FailureReasons map[string]int
	Skipped        int // Stories skipped by the failure memo
	Filtered       int // Removed by the digest quality filter
	Delivered      int // Entries in the delivered digest
	Batches        int
	Attempts       int
	MaxInFlight    int
	Truncated      int
	CacheErrors    int // Evaluations that could not be persisted
	Digest         *model.DigestBatch
}

// Pipeline builds digests. Each Run is independent; the cache and failure
// memo are the only state shared between runs.
type Pipeline struct {
	cfg       *model.Config
	store     ArticleStore
	validator *validate.Validator
	dedup     *fingerprint.Deduplicator
	cache     *cache.EvaluationCache
	failures  *cache.FailureMemo
	orch      *orchestrator.Orchestrator
	evaluator *evaluate.Evaluator
	assembler *digest.Assembler
	deliverer deliver.Deliverer
	logger    *zap.Logger

	now      func() time.Time
	newRunID func() string
}

// New creates a pipeline
func New(cfg *model.Config, deps Deps) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline requires an article store")
	}
	if deps.Provider == nil {
		return nil, errors.New("pipeline requires an LLM provider")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("pipeline requires a deliverer")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := deps.Cache
	if c == nil {
		var err error
		if c, err = cache.New(cache.Options{Logger: logger}); err != nil {
			return nil, err
		}
	}

	orch := orchestrator.New(deps.Provider,
		orchestrator.ConfigFromModel(cfg.Orchestrator, cfg.LLM.MaxTokens),
		orchestrator.WithBudget(memory.NewBudget(cfg.Memory.MaxInFlightBytes)),
		orchestrator.WithLogger(logger.Named("orchestrator")))

	return &Pipeline{
		cfg:       cfg,
		store:     deps.Store,
		validator: validate.NewValidator(cfg.Orchestrator.MaxBodyChars),
		dedup:     fingerprint.NewDeduplicator(cfg.Dedup.MaxHamming, cfg.Dedup.ShingleSize),
		cache:     c,
		failures:  deps.Failures,
		orch:      orch,
		evaluator: evaluate.NewEvaluator(),
		assembler: digest.NewAssembler(digest.OptionsFromModel(cfg.Digest), logger.Named("digest")),
		deliverer: deps.Deliverer,
		logger:    logger,
		now:       time.Now,
		newRunID:  func() string { return uuid.NewString() },
	}, nil
}

// owned is a story this run must evaluate
type owned struct {
	fp      model.Fingerprint
	article model.Article
}

// waiting is a story another computation is already evaluating
type waiting struct {
	fp      model.Fingerprint
	article model.Article
	ticket  *cache.Ticket
}

// Run builds and delivers one digest. Article-level failures are counted,
// not returned, unless their share crosses orchestrator.max_failure_ratio.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:          p.newRunID(),
		StartedAt:      p.now().UTC(),
		FailureReasons: make(map[string]int),
	}
	log := p.logger.With(zap.String("run_id", report.RunID))
	defer func() { report.Duration = p.now().Sub(report.StartedAt) }()

	raws, err := p.store.FetchRecentArticles(ctx, p.cfg.Digest.Lookback)
	if err != nil {
		return report, errors.Wrap(err, "fetch recent articles")
	}
	report.Fetched = len(raws)

	articles := p.validateAll(raws, report, log)
	groups := p.dedup.Group(articles)
	report.Unique = len(groups)
	report.Duplicates = len(articles) - len(groups)

	var (
		pairs   []model.ScoredArticle
		owners  []owned
		waiters []waiting
	)
	for _, g := range groups {
		if p.failures != nil {
			if reason, failed := p.failures.Failed(g.Fingerprint); failed {
				report.Skipped++
				log.Debug("skipping recently failed story",
					zap.String("fingerprint", g.Fingerprint.String()),
					zap.String("reason", reason))
				continue
			}
		}
		t := p.cache.Claim(g.Fingerprint)
		switch t.State {
		case cache.ClaimHit:
			report.CacheHits++
			pairs = append(pairs, model.ScoredArticle{
				Article:     g.Representative.Slim(),
				Fingerprint: g.Fingerprint,
				Evaluation:  t.Evaluation,
			})
		case cache.ClaimWait:
			waiters = append(waiters, waiting{fp: g.Fingerprint, article: g.Representative.Slim(), ticket: t})
		default:
			owners = append(owners, owned{fp: g.Fingerprint, article: g.Representative})
		}
	}
	log.Info("stories prepared",
		zap.Int("fetched", report.Fetched),
		zap.Int("unique", report.Unique),
		zap.Int("cache_hits", report.CacheHits),
		zap.Int("to_evaluate", len(owners)))

	pairs = append(pairs, p.evaluateOwners(ctx, owners, report, log)...)
	pairs = append(pairs, p.resolveWaiters(ctx, waiters, report, log)...)

	attempted := report.Evaluated + report.Failed
	if attempted > 0 && float64(report.Failed)/float64(attempted) > p.cfg.Orchestrator.MaxFailureRatio {
		return report, errors.Mark(
			errors.Newf("%d of %d evaluations failed (max ratio %.2f)",
				report.Failed, attempted, p.cfg.Orchestrator.MaxFailureRatio),
			errors.ErrFailureThreshold)
	}

	batch := p.assembler.Assemble(pairs, p.now())
	batch.RunID = report.RunID
	report.Filtered = batch.Stats.Filtered
	report.Digest = batch

	if err := p.deliverer.Deliver(ctx, batch); err != nil {
		if !errors.Is(err, errors.ErrDelivery) {
			err = errors.Mark(err, errors.ErrDelivery)
		}
		log.Error("delivery failed", zap.Error(err))
		return report, err
	}
	report.Delivered = len(batch.Entries)
	log.Info("digest delivered",
		zap.Int("entries", report.Delivered),
		zap.Int("failed", report.Failed),
		zap.Int("degraded", report.Degraded))
	return report, nil
}

func (p *Pipeline) validateAll(raws []validate.Raw, report *RunReport, log *zap.Logger) []model.Article {
	articles := make([]model.Article, 0, len(raws))
	for _, raw := range raws {
		res, err := p.validator.Article(raw)
		if err != nil {
			report.Rejected++
			log.Debug("record rejected", zap.String("url", raw.URL), zap.Error(err))
			continue
		}
		if len(res.Issues) > 0 {
			log.Debug("record defaulted",
				zap.String("article_id", res.Article.ID),
				zap.Strings("issues", res.Issues))
		}
		articles = append(articles, res.Article)
	}
	return articles
}

// evaluateOwners runs owned stories through the orchestrator one chunk at a
// time. Once a chunk is settled its articles are reduced to slim copies.
func (p *Pipeline) evaluateOwners(ctx context.Context, owners []owned, report *RunReport, log *zap.Logger) []model.ScoredArticle {
	var pairs []model.ScoredArticle
	for _, r := range memory.Chunks(len(owners), p.cfg.Memory.ChunkSize) {
		chunk := owners[r.Start:r.End]
		articles := make([]model.Article, len(chunk))
		for i, o := range chunk {
			articles[i] = o.article
		}

		// the threshold is judged over the whole run, not per chunk
		res, err := p.orch.Run(ctx, articles)
		if err != nil {
			log.Debug("chunk over failure ratio", zap.Int("chunk_start", r.Start), zap.Error(err))
		}
		report.Batches += res.Batches
		report.Attempts += res.Attempts
		report.Truncated += res.Truncated
		report.MaxInFlight = max(report.MaxInFlight, res.MaxInFlight)

		for i, o := range chunk {
			out, ok := res.Outcomes[o.article.ID]
			if !ok {
				out.Err = errors.New("no outcome for article")
			}
			if out.Err != nil {
				p.fail(ctx, o.fp, o.article.ID, out.Err, report, log)
				continue
			}

			eval := p.evaluator.Evaluate(o.article, out.Raw)
			report.Evaluated++
			if eval.Degraded {
				report.Degraded++
				log.Debug("evaluation degraded",
					zap.String("article_id", o.article.ID),
					zap.Strings("notes", eval.DegradedNotes))
			}
			if err := p.cache.Complete(ctx, o.fp, eval); err != nil {
				report.CacheErrors++
				log.Warn("evaluation not persisted",
					zap.String("fingerprint", o.fp.String()), zap.Error(err))
			}
			pairs = append(pairs, model.ScoredArticle{
				Article:     o.article.Slim(),
				Fingerprint: o.fp,
				Evaluation:  eval,
			})
			chunk[i].article = o.article.Slim()
		}
	}
	return pairs
}

func (p *Pipeline) fail(ctx context.Context, fp model.Fingerprint, articleID string, err error, report *RunReport, log *zap.Logger) {
	p.cache.Abandon(fp, err)
	report.Failed++
	reason := errors.Reason(err)
	report.FailureReasons[reason]++
	if p.failures != nil && errors.IsPermanent(err) && ctx.Err() == nil {
		p.failures.Remember(fp, reason)
	}
	log.Warn("evaluation failed",
		zap.String("article_id", articleID),
		zap.String("fingerprint", fp.String()),
		zap.String("reason", reason),
		zap.Error(err))
}

func (p *Pipeline) resolveWaiters(ctx context.Context, waiters []waiting, report *RunReport, log *zap.Logger) []model.ScoredArticle {
	var pairs []model.ScoredArticle
	for _, w := range waiters {
		eval, err := w.ticket.Wait(ctx)
		if err != nil {
			report.Failed++
			report.FailureReasons[errors.Reason(err)]++
			log.Warn("shared evaluation failed",
				zap.String("article_id", w.article.ID), zap.Error(err))
			continue
		}
		report.Waited++
		pairs = append(pairs, model.ScoredArticle{Article: w.article, Fingerprint: w.fp, Evaluation: eval})
	}
	return pairs
}
