// Package outbound forwards host chat messages to the remote endpoint.
//
// # Delivery
//
// [Sender.Send] never blocks: it snapshots the endpoint URL and key, encodes
// the message and queues it for a fixed pool of workers (3 by default). A
// full queue drops the message with an error log.
//
// Each attempt is a POST with
//
//	Content-Type: application/json; charset=utf-8
//	Authorization: Bearer <apiKey>
//	Accept: application/json
//
// and a 10s timeout. The body is a [Record]; player_id and prefix are left
// out when empty.
//
// # Retries
//
// Transport errors and 429/502/503/504 are retried up to [MaxRetries] times
// with a fixed [RetryDelay]. Only 200 is success; any other status, 2xx
// included, fails without retry. A retry is a timer from the injected
// [Scheduler] that re-queues the job, so no worker sleeps.
//
// # Shutdown
//
// [Sender.Shutdown] stops pending retry timers, lets workers drain the queue
// for up to 5s and then cancels in-flight requests.
package outbound
