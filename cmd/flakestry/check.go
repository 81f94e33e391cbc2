package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flakestry/flakestry/pkg/config"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/spf13/cobra"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and check connectivity to backing services",
	Long: `Check loads and validates the configuration, connects to PostgreSQL,
Redis and OpenSearch, and prints the same health report the /health endpoint
serves. It exits non-zero when the service would be unhealthy.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "Overall time allowed for the checks")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	status := a.healthChecker().Check(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return err
	}

	if status.Status == observability.StatusUnhealthy {
		return fmt.Errorf("service is %s", status.Status)
	}
	return nil
}
