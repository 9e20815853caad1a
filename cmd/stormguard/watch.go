package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/stormguard"
	"github.com/jpalmerr/stormguard/config"
	"github.com/jpalmerr/stormguard/guard"
	"github.com/jpalmerr/stormguard/internal/poller"
)

// watchCmd polls the configured sources and prints every update.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print live values without serving the dashboard",
	Long: `Poll every configured source and print one line per update:

  <time> <name> <status> <value>

Sources share the same request cache as the dashboard, so watching many
values of one endpoint issues one request per cache TTL.

Example:
  stormguard watch -c config.yaml
  stormguard watch -c config.yaml --cycles 1`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().Int("cycles", 0, "exit after this many updates per source (0 runs until interrupted)")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cycles, _ := cmd.Flags().GetInt("cycles")
	if cycles < 0 {
		return fmt.Errorf("--cycles cannot be negative, got %d", cycles)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	watches, err := config.BuildWatches(cfg)
	if err != nil {
		return fmt.Errorf("failed to build watches: %w", err)
	}

	tokens := guard.NewMemoryTokenStore(cfg.Token)
	client := poller.NewClient(
		poller.WithTokenSource(tokens),
		poller.WithRequestTimeout(cfg.RequestTimeout.Duration()),
		poller.WithUnauthorizedHandler(func() {
			logger.Warn("gateway rejected the token, clearing it")
			tokens.Clear()
		}),
	)
	defer client.Close()

	registry, err := stormguard.NewRegistry(stormguard.RegistryConfig{
		Transport:       client,
		CacheTTL:        cfg.CacheTTL.Duration(),
		DefaultInterval: cfg.PollInterval.Duration(),
		HistoryCapacity: cfg.History.Capacity,
		HistorySeed:     registrySeed(cfg.HistorySeed()),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	defer registry.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &linePrinter{out: cmd.OutOrStdout()}
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range watches {
		w := w
		src := registry.Get(w.Endpoint(), w.Path())
		ch, unsub := src.Subscribe()
		defer unsub()

		g.Go(func() error {
			return printUpdates(gctx, p, w.Name(), ch, cycles)
		})
	}

	for _, w := range watches {
		if src, ok := registry.Lookup(w.Endpoint(), w.Path()); ok {
			src.Start(w.Interval())
		}
	}

	return g.Wait()
}

// printUpdates prints snapshots from ch until ctx is done or limit updates
// were printed. A zero limit never stops.
func printUpdates(ctx context.Context, p *linePrinter, name string, ch <-chan stormguard.Snapshot, limit int) error {
	for n := 0; limit == 0 || n < limit; n++ {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			p.print(name, snap)
		}
	}
	return nil
}

// linePrinter serialises lines from concurrent watchers.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) print(name string, snap stormguard.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("%s\t%s\t%s\t%g", snap.UpdatedAt.Format(time.RFC3339), name, snap.Status(), snap.Value)
	if snap.Err != nil {
		line += "\t" + snap.Err.Error()
	}
	fmt.Fprintln(p.out, line)
}

// registrySeed maps the config's seed (0 means none) onto the registry's
// convention (negative means none).
func registrySeed(seed int) int {
	if seed == 0 {
		return -1
	}
	return seed
}
