package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/deliver"
	"github.com/ppiankov/aidigest/internal/llm"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/pipeline"
	"github.com/ppiankov/aidigest/internal/store"
)

var (
	runIngest     bool
	runLookback   time.Duration
	runMaxItems   int
	runOutputDir  string
	runDelivery   string
	runTimeout    time.Duration
	runNoCache    bool
	runProvider   string
	runModel      string
	runFeedsFile  string
	runBatchSize  int
	runWorkerSize int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build and deliver one digest",
	Long: `Run builds a digest from the articles stored in the lookback window:
- Validate and deduplicate stories across sources
- Reuse cached evaluations; send the rest to the LLM in batches
- Rank, filter and cap stories per source
- Write digest_<timestamp>.json and .md (or JSON to stdout)

The command exits non-zero when delivery fails or too many evaluations fail.

Example:
  aidigest run
  aidigest run --ingest --lookback 12h --max-items 10
  aidigest run --delivery stdout --llm-provider openai --llm-model gpt-4o-mini`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runIngest, "ingest", false, "fetch configured sources into the store first")
	runCmd.Flags().StringVar(&runFeedsFile, "feeds-file", "", "extra RSS feed URLs, one per line (with --ingest)")
	runCmd.Flags().DurationVar(&runLookback, "lookback", 0, "article window (overrides digest.lookback)")
	runCmd.Flags().IntVar(&runMaxItems, "max-items", 0, "maximum digest entries (overrides digest.max_items)")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "output directory (overrides delivery.output_dir)")
	runCmd.Flags().StringVar(&runDelivery, "delivery", "", "delivery kind: file or stdout")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run timeout (overrides run.timeout)")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "ignore and do not persist cached evaluations")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "articles per LLM request")
	runCmd.Flags().IntVar(&runWorkerSize, "concurrency", 0, "concurrent LLM requests")

	runCmd.Flags().StringVar(&runProvider, "llm-provider", "", "LLM provider (openai, anthropic, ollama)")
	runCmd.Flags().StringVar(&runModel, "llm-model", "", "LLM model name")
}

// applyRunFlags layers explicitly set flags over the loaded config
func applyRunFlags(cmd *cobra.Command, cfg *model.Config) {
	flags := cmd.Flags()
	if flags.Changed("lookback") {
		cfg.Digest.Lookback = runLookback
	}
	if flags.Changed("max-items") {
		cfg.Digest.MaxItems = runMaxItems
	}
	if flags.Changed("output-dir") {
		cfg.Delivery.OutputDir = runOutputDir
	}
	if flags.Changed("delivery") {
		cfg.Delivery.Kind = runDelivery
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout = runTimeout
	}
	if flags.Changed("batch-size") {
		cfg.Orchestrator.BatchSize = runBatchSize
	}
	if flags.Changed("concurrency") {
		cfg.Orchestrator.Concurrency = runWorkerSize
	}
	if flags.Changed("llm-provider") {
		cfg.LLM.Provider = runProvider
	}
	if flags.Changed("llm-model") {
		cfg.LLM.Model = runModel
	}
	if runNoCache {
		cfg.Cache.Enabled = false
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := commandContext(cmd)
	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	banner("aidigest run")
	fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "  Lookback:     %v\n", cfg.Digest.Lookback)
	fmt.Fprintf(os.Stderr, "  Store:        %s\n", cfg.Store.Path)
	fmt.Fprintf(os.Stderr, "  Cache:        %s\n", cacheLabel(cfg.Cache))
	fmt.Fprintf(os.Stderr, "  Delivery:     %s\n", deliveryLabel(cfg.Delivery))
	fmt.Fprintf(os.Stderr, "\n")

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return fmt.Errorf("create LLM provider: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if runIngest {
		if err := ingestSources(ctx, cfg, runFeedsFile, st, logger); err != nil {
			return err
		}
	}

	evalCache, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer func() { _ = evalCache.Close() }()

	deliverer, err := deliver.New(cfg.Delivery.Kind, cfg.Delivery.OutputDir, os.Stdout)
	if err != nil {
		return err
	}

	failures := openFailureMemo(cfg.Cache, logger)
	p, err := pipeline.New(cfg, pipeline.Deps{
		Store:     st,
		Provider:  provider,
		Cache:     evalCache,
		Failures:  failures,
		Deliverer: deliverer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "⚙️  Building digest...\n")
	report, runErr := p.Run(ctx)
	saveFailureMemo(failures, cfg.Cache, logger)
	printReport(report, deliverer, runErr == nil)
	if runErr != nil {
		logger.Error("run failed", zap.String("run_id", report.RunID), zap.Error(runErr))
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func printReport(r *pipeline.RunReport, d deliver.Deliverer, delivered bool) {
	banner("Digest Complete")
	fmt.Fprintf(os.Stderr, "  Run:         %s\n", r.RunID)
	fmt.Fprintf(os.Stderr, "  Articles:    %d (%d rejected, %d duplicates)\n", r.Fetched, r.Rejected, r.Duplicates)
	fmt.Fprintf(os.Stderr, "  Stories:     %d (%d cached, %d evaluated, %d skipped)\n", r.Unique, r.CacheHits, r.Evaluated, r.Skipped)
	fmt.Fprintf(os.Stderr, "  Degraded:    %d\n", r.Degraded)
	fmt.Fprintf(os.Stderr, "  Failed:      %d%s\n", r.Failed, reasons(r.FailureReasons))
	fmt.Fprintf(os.Stderr, "  Filtered:    %d\n", r.Filtered)
	fmt.Fprintf(os.Stderr, "  Delivered:   %d\n", r.Delivered)
	fmt.Fprintf(os.Stderr, "  Duration:    %v\n", r.Duration.Round(time.Millisecond))
	if fd, ok := d.(*deliver.FileDeliverer); ok && delivered && r.Digest != nil {
		jsonPath, mdPath := fd.Paths(r.Digest)
		fmt.Fprintf(os.Stderr, "  Output:      %s\n", jsonPath)
		fmt.Fprintf(os.Stderr, "               %s\n", mdPath)
	}
	fmt.Fprintf(os.Stderr, "\n")
}

func reasons(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := " ("
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %d", k, m[k])
	}
	return s + ")"
}

func cacheLabel(c model.CacheConfig) string {
	if !c.Enabled {
		return "disabled"
	}
	switch c.Backend {
	case "redis":
		return "redis " + c.RedisURL
	case "none", "memory":
		return "memory only"
	default:
		return c.Dir
	}
}

func deliveryLabel(d model.DeliveryConfig) string {
	if d.Kind == "stdout" {
		return "stdout"
	}
	return d.OutputDir
}
