// Package store keeps the latest state of every watched source and fans
// updates out to subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [SourceRecord]: Storage representation of a source's state
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block polling).
//
// Users of the stormguard library should not need to interact with this
// package directly. Storage is managed internally by the Monitor.
package store
