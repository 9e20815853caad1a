package stormguard

import "time"

// Status summarises the health of a [Source] for display.
//
// Status is a string type so it serialises and logs readably while keeping
// type safety through the defined constants.
type Status string

const (
	// StatusIdle indicates the source has not completed a polling cycle.
	StatusIdle Status = "idle"

	// StatusOK indicates the last cycle produced a sample.
	StatusOK Status = "ok"

	// StatusDegraded indicates the endpoint answered but the value could not
	// be extracted from the payload.
	StatusDegraded Status = "degraded"

	// StatusDisconnected indicates the last request failed.
	StatusDisconnected Status = "disconnected"
)

// String returns the string representation of the status.
// This implements the fmt.Stringer interface.
func (s Status) String() string {
	return string(s)
}

// Sample is one point of a source's history.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Snapshot is a point-in-time copy of a [Source]'s observable state.
//
// Snapshots are detached from the source: History is a fresh slice and may
// be modified by the caller.
type Snapshot struct {
	// Endpoint is the URL the source polls.
	Endpoint string

	// Path is the dot-separated location of the value inside the payload.
	Path string

	// Value is the last accepted sample. A transport failure resets it to 0.
	Value float64

	// History holds the retained samples, oldest first.
	History []Sample

	// Connected is false after a request failure until the next success.
	Connected bool

	// HasError is true when the last cycle failed for any reason.
	HasError bool

	// Err is the failure of the last cycle, nil after a success.
	Err error

	// Running reports whether the source is polling.
	Running bool

	// UpdatedAt is when the last cycle was applied. Zero if none has been.
	UpdatedAt time.Time
}

// Status derives the display status from the snapshot's flags.
func (s Snapshot) Status() Status {
	switch {
	case s.UpdatedAt.IsZero():
		return StatusIdle
	case !s.Connected:
		return StatusDisconnected
	case s.HasError:
		return StatusDegraded
	default:
		return StatusOK
	}
}

// SourceResult is delivered to snapshot callbacks registered on a [Monitor]
// after every applied polling cycle of a watched source.
type SourceResult struct {
	// Name is the watch name.
	Name string

	// Labels contains the key-value metadata associated with the watch.
	Labels map[string]string

	Snapshot
}
