// Standalone mock gateway for testing the CLI.
//
// Usage:
//
//	MOCK_TOKEN=secret go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	GATEWAY_TOKEN=secret go run ./cmd/stormguard serve -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
)

func main() {
	token := os.Getenv("MOCK_TOKEN")

	fmt.Println("Mock gateway starting on :9999")
	fmt.Println("Rates at /api/rates and /{site}/api/rates")
	if token != "" {
		fmt.Println("Requests must carry: Authorization: Bearer $MOCK_TOKEN")
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		rates = make(map[string]*[2]float64)
		mu    sync.Mutex
	)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		site, ok := strings.CutSuffix(strings.Trim(r.URL.Path, "/"), "api/rates")
		if !ok {
			http.NotFound(w, r)
			return
		}
		site = strings.Trim(site, "/")

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			slog.Warn("rejected request", "site", site, "remote", r.RemoteAddr)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		mu.Lock()
		rate, exists := rates[site]
		if !exists {
			rate = &[2]float64{50, 12}
			rates[site] = rate
		}
		rate[0] = math.Max(0, rate[0]+rand.NormFloat64()*4)
		rate[1] = math.Max(0, rate[1]+rand.NormFloat64()*1.5)
		mqtt, plugin := rate[0], rate[1]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_mqtt_communication":   map[string]float64{"rate": mqtt},
			"total_plugin_communication": map[string]float64{"rate": plugin},
		})
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
