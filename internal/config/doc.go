// Package config handles configuration loading for aether-bridge.
//
// # Overview
//
// Configuration is a single file whose encoding follows its extension:
// JSON (default), YAML (.yaml, .yml) or TOML (.toml). Keys are identical in
// every format. Environment variables are expanded before decoding.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from AETHER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/aether-bridge/config.json
//  3. ~/.config/aether-bridge/config.json
//
// A missing file is created with generated defaults on first load.
//
// # Keys
//
//	{
//	  "apiUrl": "http://localhost:3000/api/mc-message",
//	  "apiKey": "${AETHER_API_KEY}",
//	  "listenPort": 8080,
//	  "defaultChatPrefix": "Game",
//	  "features": {
//	    "messageSender": true,
//	    "messageReceiver": true
//	  },
//	  "logging": {"level": "info", "format": "text"},
//	  "journal": {"path": ":memory:"}
//	}
//
// Missing keys take their default value; missing feature flags default to
// enabled. JSON files may start with "//" comment lines.
//
// # Validation
//
//   - apiUrl must be a non-empty URL
//   - apiKey must be non-empty
//   - listenPort must be in [1, 65535]
//
// A file that fails to parse or validate is never overwritten: [Store.Load]
// publishes a generated default configuration and returns the error.
//
// # Snapshots
//
// [Store.Snapshot] returns an immutable *Config. Changes go through
// [Store.Update], which saves to disk and reloads, swapping the snapshot
// atomically.
package config
