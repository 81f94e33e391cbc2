package main

import (
	"fmt"

	"github.com/flakestry/flakestry/pkg/config"
	"github.com/flakestry/flakestry/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

var (
	purgeSummaries bool
	purgeDetails   bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the Redis release cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached release summaries and details from Redis",
	Long: `Purge removes cached releases from Redis so the next reads go to
PostgreSQL. By default both summaries and details are removed. Processes
that are running keep their in-memory detail cache until entries expire.`,
	RunE: runCachePurge,
}

func init() {
	cachePurgeCmd.Flags().BoolVar(&purgeSummaries, "summaries", false, "Only purge release summaries")
	cachePurgeCmd.Flags().BoolVar(&purgeDetails, "details", false, "Only purge release details")
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

// purgePatterns selects key patterns from the flags; no flag means all
func purgePatterns(summaries, details bool) []string {
	if !summaries && !details {
		summaries, details = true, true
	}
	var patterns []string
	if summaries {
		patterns = append(patterns, postgres.SummaryKeyPattern)
	}
	if details {
		patterns = append(patterns, postgres.DetailKeyPattern)
	}
	return patterns
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.RedisURL == "" {
		return fmt.Errorf("no Redis cache configured (set FLAKESTRY_REDIS_URL)")
	}

	client, err := postgres.NewRedisClient(cfg.Storage)
	if err != nil {
		return err
	}
	defer client.Close()

	deleted, err := client.InvalidatePatterns(cmd.Context(), purgePatterns(purgeSummaries, purgeDetails)...)
	if err != nil {
		return fmt.Errorf("purge failed after %d keys: %w", deleted, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d cached releases\n", deleted)
	return nil
}
