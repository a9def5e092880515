package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/cache"
	"github.com/ppiankov/aidigest/internal/llm"
	"github.com/ppiankov/aidigest/internal/store"
)

// availabilityTimeout bounds the provider check
const availabilityTimeout = 10 * time.Second

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, cache and provider status",
	Long: `Status reports how many articles the store holds, how many fall inside
the lookback window per source, how many evaluations are cached, how many
stories are being skipped after a permanent failure, and whether the
configured LLM provider answers.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// articleCounter is the part of the store status reads
type articleCounter interface {
	Count(ctx context.Context) (int, error)
	CountBySource(ctx context.Context, window time.Duration) (map[string]int, error)
}

type status struct {
	Lookback  time.Duration
	Total     int
	Recent    map[string]int
	Cached    cache.Stats
	Skipping  int
	Provider  string
	Available bool
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	c, err := openCache(ctx, cfg.Cache, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// a provider that cannot be built is reported as unavailable
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		provider = nil
	}

	s, err := collectStatus(ctx, st, c, openFailureMemo(cfg.Cache, zap.NewNop()), provider, cfg.Digest.Lookback)
	if err != nil {
		return err
	}
	s.Provider = cfg.LLM.Provider + "/" + cfg.LLM.Model
	printStatus(os.Stdout, s)
	return nil
}

func collectStatus(ctx context.Context, st articleCounter, c *cache.EvaluationCache, memo *cache.FailureMemo, provider llm.Provider, lookback time.Duration) (status, error) {
	s := status{Lookback: lookback}

	var err error
	if s.Total, err = st.Count(ctx); err != nil {
		return s, err
	}
	if s.Recent, err = st.CountBySource(ctx, lookback); err != nil {
		return s, err
	}
	s.Cached = c.Stats()
	s.Skipping = memo.Len()

	if provider != nil {
		s.Provider = provider.Name()
		checkCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
		defer cancel()
		s.Available = provider.IsAvailable(checkCtx)
	}
	return s, nil
}

func printStatus(w io.Writer, s status) {
	fmt.Fprintf(w, "Articles:  %d stored\n", s.Total)
	sources := make([]string, 0, len(s.Recent))
	recent := 0
	for name, n := range s.Recent {
		sources = append(sources, name)
		recent += n
	}
	sort.Strings(sources)
	fmt.Fprintf(w, "Recent:    %d in the last %v\n", recent, s.Lookback)
	for _, name := range sources {
		fmt.Fprintf(w, "  %-12s %d\n", name, s.Recent[name])
	}
	fmt.Fprintf(w, "Cached:    %d evaluations (%d bytes)\n", s.Cached.Entries, s.Cached.Bytes)
	fmt.Fprintf(w, "Skipping:  %d recently failed stories\n", s.Skipping)

	mark := "✗ unavailable"
	if s.Available {
		mark = "✓ available"
	}
	fmt.Fprintf(w, "Provider:  %s %s\n", s.Provider, mark)
}
