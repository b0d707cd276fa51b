// Package outbox drains the durable delivery queue. A pool of senders claims
// due messages one at a time, respects a shared token-bucket rate limit, and
// reschedules failures with jittered exponential backoff until the attempt
// cap dead-letters them.
package outbox
