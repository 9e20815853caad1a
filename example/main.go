package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/stormguard"
)

const demoToken = "demo-token"

func main() {
	// start mock gateway (see mock_server.go)
	go StartMockGateway(":9999", demoToken)
	time.Sleep(100 * time.Millisecond)

	// grid API: 2 sites × 2 rates = 4 watches over 2 endpoints
	watches, err := stormguard.NewWatchGrid("Communication rate",
		stormguard.WithURLTemplate("http://localhost:9999/{{.site}}/api/rates"),
		stormguard.WithPathTemplate("total_{{.kind}}_communication.rate"),
		stormguard.WithDimensions(map[string][]string{
			"site": {"plant-a", "plant-b"},
			"kind": {"mqtt", "plugin"},
		}),
	)
	if err != nil {
		slog.Error("failed to create watch grid", "error", err)
		os.Exit(1)
	}

	// a second chart of the same value shares its source
	total, _ := stormguard.NewWatch("Plant A MQTT (slow)",
		"http://localhost:9999/plant-a/api/rates",
		"total_mqtt_communication.rate",
		stormguard.WithInterval(10*time.Second),
	)
	watches = append(watches, total)

	m, err := stormguard.New(
		stormguard.WithWatches(watches...),
		stormguard.WithPollingInterval(2*time.Second),
		stormguard.WithPort(8080),
		stormguard.WithToken(demoToken),
		stormguard.WithSnapshotCallback(func(r stormguard.SourceResult) {
			if r.Status() == stormguard.StatusDisconnected {
				slog.Warn("source disconnected", "watch", r.Name, "error", r.Err)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   StormGuard Demo                                     ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Watches:                                            ║")
	fmt.Println("  ║   • 4 rates (2 sites × 2 kinds via Grid)              ║")
	fmt.Println("  ║   • 1 duplicate chart sharing a source                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		slog.Error("stormguard error", "error", err)
		os.Exit(1)
	}
}
