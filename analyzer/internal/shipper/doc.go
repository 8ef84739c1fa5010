// Package shipper publishes analysis records to NATS JetStream.
//
// Shipper.Ship is non-blocking: each record of a report (health,
// vulnerability, simulation, recovery and every transition event) is
// encoded to JSON and placed in a bounded channel. When the buffer is full
// the oldest record is evicted so the latest state is always kept.
//
// Shipper.Run drains the buffer, reconnecting with truncated exponential
// backoff (1s→60s, ±25% jitter) on connection or publish errors. Errors no
// retry can fix (oversized payload, bad subject, no stream bound) discard
// the record instead.
//
// Subjects are "<prefix>.health", "<prefix>.vulnerability",
// "<prefix>.simulation", "<prefix>.recovery" and "<prefix>.event".
package shipper
