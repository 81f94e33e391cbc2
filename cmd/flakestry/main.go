package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "flakestry",
	Short:        "Flake release registry API",
	SilenceUsage: true,
	Long: `Flakestry serves published flake releases from PostgreSQL, with free-text
search backed by OpenSearch and an optional Redis cache.

Configuration is read from the environment (FLAKESTRY_*, DATABASE_URL,
OPENSEARCH_*, OTEL_*) and from the YAML file named by FLAKESTRY_CONFIG_FILE.`,
	Version: version,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
