package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached evaluations",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many evaluations are cached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		c, err := openCache(ctx, cfg.Cache, zap.NewNop())
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		s := c.Stats()
		fmt.Printf("Backend:   %s\n", cacheLabel(cfg.Cache))
		fmt.Printf("Entries:   %d\n", s.Entries)
		fmt.Printf("Bytes:     %d\n", s.Bytes)
		fmt.Printf("TTL:       %v\n", cfg.Cache.TTL)
		fmt.Printf("Bounds:    %d entries, %d bytes\n", cfg.Cache.MaxEntries, cfg.Cache.MaxBytes)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached evaluation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		c, err := openCache(ctx, cfg.Cache, zap.NewNop())
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		n := c.Stats().Entries
		if err := c.Purge(ctx); err != nil {
			return fmt.Errorf("purge cache: %w", err)
		}
		fmt.Printf("✓ Purged %d cached evaluations\n", n)
		if path := failureMemoPath(cfg.Cache); path != "" {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove failure memo: %w", err)
			}
		}
		return nil
	},
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}
