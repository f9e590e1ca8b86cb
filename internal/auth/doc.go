// Package auth provides request authentication for aether-bridge.
//
// The bridge uses a single static shared secret (the configured apiKey).
// Callers of the inbound endpoint send it as
//
//	Authorization: Bearer <apiKey>
//
// and the header must match exactly. Missing headers, other schemes and wrong
// keys are all rejected with 403 and an empty body.
//
// The key is looked up per request through a [KeyFunc], so swapping the
// config snapshot changes the accepted key immediately.
package auth
