// Package poller provides the HTTP transport and the tick loop behind
// stormguard polling sources.
//
// The main components are:
//
//   - [Client]: JSON GET transport with bearer tokens, timeouts and size limits
//   - [Scheduler]: runs one polling cycle per tick, skipping ticks while a cycle is outstanding
//   - [StatusError]: non-2xx response returned by [Client.Get]
//
// Users of the stormguard library should not need to interact with this
// package directly. Configuration is done through the main stormguard package.
package poller
