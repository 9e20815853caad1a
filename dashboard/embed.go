// Package dashboard provides the embedded web UI for stormguard.
//
// The page subscribes to /api/sse, draws each source's history as a line
// chart and drives the navigation guard through /api/navigate and
// /api/session. Embedding keeps deployment to a single binary.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
//	assets/
//	  index.html    - dashboard page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
