package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/stormguard/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a StormGuard configuration file without starting the server.

This command parses the YAML, expands environment variables, validates all
fields and expands every grid. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  stormguard validate -c config.yaml
  stormguard validate --config /etc/stormguard/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// template errors only surface on expansion
	watches, err := config.BuildWatches(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	direct := len(cfg.Sources)
	fromGrids := len(watches) - direct

	// distinct endpoints bound the request rate
	endpoints := make(map[string]struct{}, len(watches))
	for _, w := range watches {
		endpoints[w.Endpoint()] = struct{}{}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Cache TTL:     %s\n", cfg.CacheTTL.Duration())
	fmt.Fprintf(out, "  History:       %d samples (seed %d)\n", cfg.History.Capacity, cfg.HistorySeed())
	fmt.Fprintf(out, "  Sources:       %d direct + %d from grids = %d total\n",
		direct, fromGrids, len(watches))
	fmt.Fprintf(out, "  Endpoints:     %d distinct\n", len(endpoints))

	return nil
}
