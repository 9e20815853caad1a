package store

import "time"

// Point is one history sample in storage form.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SourceRecord is the storage representation of a watched source, shaped
// for JSON serialization (used by the REST API and SSE). It is decoupled
// from the polling types to allow independent evolution.
type SourceRecord struct {
	// Name is the watch's display name and the storage key.
	Name string `json:"name"`

	// Endpoint is the polled URL.
	Endpoint string `json:"endpoint"`

	// Path is the extraction path inside the payload.
	Path string `json:"path"`

	// Status is the derived display status ("idle", "ok", "degraded", "disconnected").
	Status string `json:"status"`

	// Labels contains key-value metadata for grouping and filtering.
	Labels map[string]string `json:"labels"`

	// Value is the last accepted sample.
	Value float64 `json:"value"`

	// History holds retained samples, oldest first.
	History []Point `json:"history"`

	Connected bool `json:"connected"`
	HasError  bool `json:"hasError"`

	// Error contains the last cycle's failure, nil after a success.
	Error *string `json:"error"`

	// UpdatedAt is when the last cycle was applied.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store defines storing and subscribing to source records.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism pushes updates to connected clients (e.g., via Server-Sent Events).
type Store interface {
	// Update stores a record keyed by Name and notifies all subscribers.
	Update(record SourceRecord)

	// GetAll returns all records ordered by Name.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []SourceRecord

	// Get returns the record stored under name.
	Get(name string) (SourceRecord, bool)

	// Subscribe returns a channel that receives updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan SourceRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan SourceRecord)
}
