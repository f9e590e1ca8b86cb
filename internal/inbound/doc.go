// Package inbound accepts messages from the remote service over HTTP and
// relays them into the host.
//
// # Routes
//
//	POST /api/send-to-mc   authenticated ingress
//	*    anything else     204 for OPTIONS, 404 otherwise, CORS headers always
//
// # Ingress
//
// Each request on the ingress route goes through, in order:
//
//  1. feature disabled: 503, no body
//  2. CORS headers
//  3. OPTIONS: 204
//  4. bearer check: 403, no body
//  5. body parse: 400 {"error":"missing message field"} or
//     500 {"error":"internal server error"}
//  6. relay "[prefix] message" (or just message) and answer 200 {"status":"success"}
//
// Every ingress response carries "Connection: close".
//
// Relaying happens after the outcome is decided. Messages longer than
// [MaxMessageLength] characters, or arriving while the host is not running,
// are dropped with a log entry and the caller still sees 200.
//
// # Concurrency
//
// At most [Workers] handlers run at once. [Receiver.Stop] closes the
// listener and connections immediately, then waits up to [StopTimeout] for
// running handlers.
package inbound
