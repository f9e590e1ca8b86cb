// Package gateway assembles a running bridge.
//
// # Components
//
//	config.Store        current config snapshot, persisted flag changes
//	store.EventStore    delivery journal (SQLite, or memory)
//	host.Console        host adapter: chat in, broadcasts out, /bridge commands
//	feature.Manager     sender and receiver lifecycle
//	command.Dispatcher  operator commands, installed on the console
//
// # Lifecycle
//
//	gw, err := gateway.New(gateway.Options{ConfigPath: path, DataDir: dir}, logger)
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// Run starts the console loop, converges features to the config and waits.
// On cancellation it disables every feature, closes the journal and stops
// the console loop last, so tasks queued by the features still run.
//
// The journal lives at journal.path when set, otherwise at
// <DataDir>/journal.db; without a data directory it is kept in memory.
package gateway
