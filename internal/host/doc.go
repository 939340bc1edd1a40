// Package host defines the capabilities the sync engine needs from the
// editor it runs inside.
//
// A host adapter supplies four things:
//
//   - EventSource: local change, rename, delete, save and selection events
//   - Documents:   writes to live documents, read-only flags and highlights
//   - Files:       reading and walking files under the shared root
//   - Executor:    the single-threaded context that owns live documents
//
// Every document write carries an Origin. Hosts tag the change events caused
// by a write with the write's origin, per document, so the local edit path can
// tell a user edit from the echo of a remote one.
//
// # Executor
//
// SerialExecutor is a ready-made Executor for hosts without a UI thread of
// their own. It runs submitted functions one at a time in submission order
// and recovers panics so one bad task cannot stop the queue. Callers that
// need panics reported wrap their own work before submitting it.
package host
