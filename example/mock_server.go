package main

import (
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateWalk is a random walk for one site's communication rates.
type rateWalk struct {
	mqtt   float64
	plugin float64
}

func (r *rateWalk) step() {
	r.mqtt = math.Max(0, r.mqtt+rand.NormFloat64()*4)
	r.plugin = math.Max(0, r.plugin+rand.NormFloat64()*1.5)
}

// StartMockGateway runs a mock gateway serving communication rates at
// /api/rates and /{site}/api/rates. Every request moves the rates a step.
// A non-empty token is required as a bearer token; other requests get 401.
// Call this in a goroutine before creating watches.
func StartMockGateway(addr, token string) {
	var (
		sites = make(map[string]*rateWalk)
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
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		mu.Lock()
		walk, exists := sites[site]
		if !exists {
			walk = &rateWalk{mqtt: 40 + rand.Float64()*20, plugin: 10 + rand.Float64()*5}
			sites[site] = walk
		}
		walk.step()
		mqtt, plugin := walk.mqtt, walk.plugin
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"total_mqtt_communication":   map[string]float64{"rate": math.Round(mqtt*10) / 10},
			"total_plugin_communication": map[string]float64{"rate": math.Round(plugin*10) / 10},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock gateway error", "error", err)
	}
}
