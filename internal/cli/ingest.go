package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/pipeline"
	"github.com/ppiankov/aidigest/internal/store"
)

var (
	ingestFeedsFile string
	ingestNoHN      bool
	ingestNoReddit  bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch configured sources into the article store",
	Long: `Ingest pulls recent items from every configured RSS feed, Hacker News
and the configured subreddits, validates them and upserts them into the
article store.
Existing rows get fresh engagement counters.

A source that fails is reported and skipped.

Example:
  aidigest ingest
  aidigest ingest --feeds-file feeds.txt
  aidigest ingest --no-hackernews --no-reddit`,
	Args: cobra.NoArgs,
	RunE: runIngestCmd,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFeedsFile, "feeds-file", "", "extra RSS feed URLs, one per line")
	ingestCmd.Flags().BoolVar(&ingestNoHN, "no-hackernews", false, "skip Hacker News")
	ingestCmd.Flags().BoolVar(&ingestNoReddit, "no-reddit", false, "skip Reddit")
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestNoHN {
		cfg.Sources.HackerNews = false
	}
	if ingestNoReddit {
		cfg.Sources.Reddit = nil
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := commandContext(cmd)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	return ingestSources(ctx, cfg, ingestFeedsFile, st, logger)
}

func ingestSources(ctx context.Context, cfg *model.Config, feedsFile string, st *store.SQLiteStore, logger *zap.Logger) error {
	if feedsFile != "" {
		extra, err := feedsFromFile(feedsFile)
		if err != nil {
			return fmt.Errorf("read feeds file: %w", err)
		}
		cfg.Sources.RSS = append(cfg.Sources.RSS, extra...)
	}

	sources := buildSources(cfg.Sources, cfg.LLM)
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured (set sources.rss, sources.hackernews or sources.reddit)")
	}

	banner("aidigest ingest")
	fmt.Fprintf(os.Stderr, "  Sources:      %d\n", len(sources))
	fmt.Fprintf(os.Stderr, "  Window:       %v\n", cfg.Digest.Lookback)
	fmt.Fprintf(os.Stderr, "  Store:        %s\n", cfg.Store.Path)
	fmt.Fprintf(os.Stderr, "\n")

	report, err := pipeline.Ingest(ctx, sources, st, cfg.Digest.Lookback, logger.Named("ingest"))
	if err != nil {
		return err
	}

	names := make([]string, 0, len(report.Failed))
	for name := range report.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, report.Failed[name])
	}
	fmt.Fprintf(os.Stderr, "✓ Stored %d articles (%d fetched, %d rejected)\n", report.Stored, report.Fetched, report.Rejected)
	if total, err := st.Count(ctx); err == nil {
		fmt.Fprintf(os.Stderr, "  Store now holds %d articles\n", total)
	}
	fmt.Fprintf(os.Stderr, "\n")
	return nil
}
