// Package metrics provides the Prometheus collectors shared by the cache,
// the polling sources and the navigation guard.
//
// This package is internal to stormguard. Collectors are registered against
// a caller-supplied [prometheus.Registerer] so that tests and embedding
// applications can keep their own registries. A nil *[Metrics] is valid and
// records nothing, which keeps instrumentation optional for SDK users.
package metrics
