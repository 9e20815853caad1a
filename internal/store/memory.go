package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Records are keyed by name, with new records replacing previous values.
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber to prevent blocking the polling path.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]SourceRecord

	subMu       sync.RWMutex
	subscribers map[chan SourceRecord]struct{}
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]SourceRecord),
		subscribers: make(map[chan SourceRecord]struct{}),
	}
}

// Update stores a [SourceRecord] and notifies all subscribers.
func (m *MemoryStore) Update(record SourceRecord) {
	record = cloneRecord(record)

	m.mu.Lock()
	m.records[record.Name] = record
	m.mu.Unlock()

	m.notifySubscribers(record)
}

// GetAll returns a snapshot of all records ordered by name.
func (m *MemoryStore) GetAll() []SourceRecord {
	m.mu.RLock()
	out := make([]SourceRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, cloneRecord(r))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a copy of the record stored under name.
func (m *MemoryStore) Get(name string) (SourceRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[name]
	if !ok {
		return SourceRecord{}, false
	}
	return cloneRecord(r), true
}

// Subscribe creates a new subscription with a buffer of 100 messages.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan SourceRecord {
	ch := make(chan SourceRecord, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan SourceRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			return
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (m *MemoryStore) SubscriberCount() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscribers)
}

// notifySubscribers sends the record to all active subscribers without
// blocking; a full subscriber misses this update.
func (m *MemoryStore) notifySubscribers(record SourceRecord) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- record:
		default:
		}
	}
}

// cloneRecord copies the record's reference fields so callers never share
// them with the store.
func cloneRecord(r SourceRecord) SourceRecord {
	if r.Labels != nil {
		labels := make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			labels[k] = v
		}
		r.Labels = labels
	}
	if r.History != nil {
		r.History = append([]Point(nil), r.History...)
	}
	if r.Error != nil {
		msg := *r.Error
		r.Error = &msg
	}
	return r
}
