// Package api exposes the runtime over HTTP and WebSocket: CRUD for
// addresses, blocks, bindings and pages, commanded writes and
// triggers, backup export/import, and a live telegram stream.
//
// The API layer holds no state of its own. Every mutating request is
// forwarded to the scheduler's command channel; reads go through the
// same channel or the bus's thread-safe accessors. Errors come back as
// structured {kind, message} objects so the UI can toast them.
package api
