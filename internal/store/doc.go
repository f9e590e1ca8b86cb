// Package store provides the delivery journal for aether-bridge.
//
// # Architecture
//
// The journal is an append-only list of [Event] values behind the
// [EventStore] interface, with two implementations:
//
//   - SQLiteStore: durable journal backed by modernc.org/sqlite (pure Go, no cgo)
//   - MemoryStore: in-memory journal, selected with the path ":memory:"
//
// [Open] picks the implementation from the configured journal path.
//
// # Events
//
// Outbound events record each delivery attempt to the remote endpoint
// (delivered, retry, failed) and messages that never left the process
// (dropped). Inbound events record the HTTP outcome of each request
// (accepted, rejected) and the later delivery into the host (delivered,
// dropped).
//
// The journal is diagnostic only. Nothing is ever re-sent from it.
//
// # Listing
//
// ListEvents returns newest first. Limits default to 100 and are capped at
// 1000.
package store
