package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/source"
	"github.com/ppiankov/aidigest/internal/validate"
)

// ArticleWriter is the write side of the article store
type ArticleWriter interface {
	UpsertArticles(ctx context.Context, articles []model.Article) error
}

// IngestReport summarizes one ingestion pass
type IngestReport struct {
	Fetched  int
	Rejected int
	Stored   int
	Failed   map[string]error // Per source
}

// Ingest pulls records from every source, validates them and upserts the
// survivors. A failing source is reported and skipped. Only a store failure
// fails the pass.
func Ingest(ctx context.Context, sources []source.Source, w ArticleWriter, window time.Duration, logger *zap.Logger) (*IngestReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := source.FetchAll(ctx, sources, window, logger)
	report := &IngestReport{Fetched: len(res.Records), Failed: res.Errors}

	// bodies are stored whole; the run truncates them for prompting
	v := validate.NewValidator(0)
	fetchedAt := time.Now().UTC()
	articles := make([]model.Article, 0, len(res.Records))
	seen := make(map[string]bool, len(res.Records))
	for _, raw := range res.Records {
		r, err := v.Article(raw)
		if err != nil {
			report.Rejected++
			logger.Debug("record rejected", zap.String("url", raw.URL), zap.Error(err))
			continue
		}
		// a feed listing the same story twice keeps the first copy
		if seen[r.Article.ID] {
			continue
		}
		seen[r.Article.ID] = true
		r.Article.FetchedAt = fetchedAt
		articles = append(articles, r.Article)
	}

	if err := w.UpsertArticles(ctx, articles); err != nil {
		return report, errors.Wrap(err, "store articles")
	}
	report.Stored = len(articles)
	logger.Info("ingest complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("stored", report.Stored),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed_sources", len(report.Failed)))
	return report, nil
}
