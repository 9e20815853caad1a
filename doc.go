// Package stormguard polls numeric values out of JSON endpoints without
// letting many consumers turn into a request storm, and serves them on a
// live dashboard.
//
// # Quick Start
//
//	w, _ := stormguard.NewWatch("MQTT rate", "http://gateway:8080/api/rates",
//	    "total_mqtt_communication.rate")
//	m, _ := stormguard.New(stormguard.WithWatch(w))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	m.Start(ctx) // blocks until ctx is cancelled
//
// # Request discipline
//
// Three layers keep request volume bounded:
//
//   - [Registry] hands out one [Source] per (endpoint, path) pair.
//   - Every source of an endpoint reads through one [cache.Cache], so
//     concurrent reads of a key share a single in-flight request and fresh
//     payloads are reused within the TTL.
//   - A [Source] never overlaps its own cycles: ticks that fire while a
//     request is outstanding are skipped.
//
// Sources can be used without a [Monitor]:
//
//	reg, _ := stormguard.NewRegistry(stormguard.RegistryConfig{Transport: client})
//	src := reg.Get("http://gateway:8080/api/rates", "total_mqtt_communication.rate")
//	ch, unsubscribe := src.Subscribe()
//	defer unsubscribe()
//	src.Start(0)
//
// # Extraction
//
// A path is a dot-separated sequence of object keys. The leaf must be a
// number, a numeric string or a boolean. A failed extraction marks the
// source degraded and keeps its previous value; a failed request marks it
// disconnected and records a zero sample.
//
// # Navigation guard
//
// The dashboard's session is protected by [guard.Guard], which prevents
// redirect loops by throttling redirects and force-allowing re-entrant
// decisions. Unauthorized API responses redirect to the login route through
// the same throttle.
//
// # Architecture
//
//   - cache: coalescing keyed cache with per-call TTL
//   - guard: navigation guard, route table and router integration
//   - internal/poller: HTTP client and non-overlapping tick scheduler
//   - internal/store: latest records with pub/sub for the dashboard
//   - internal/server: REST API, Server-Sent Events and metrics
//   - internal/metrics: Prometheus collectors
//   - config: YAML configuration for the stormguard binary
//   - dashboard: embedded web UI assets
package stormguard
