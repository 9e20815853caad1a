// Package server provides the HTTP server for the stormguard dashboard and API.
//
// It serves the embedded dashboard at "/", the current source records at
// "/api/sources", a Server-Sent Events stream at "/api/sse", the navigation
// guard at "/api/navigate" and "/api/session", and Prometheus metrics at
// "/metrics".
//
// The server shuts down gracefully when its context is cancelled, with a
// 5-second timeout for in-flight requests.
package server
