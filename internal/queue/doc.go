// Package queue manages durable work-item persistence backed by SQLite.
//
// Two tables share one discipline: jobs (fetch+transcribe work) and outbox
// (queued mail deliveries). All cross-goroutine coordination happens through
// atomic claim transitions on the status column — a single transaction
// selects the oldest eligible row and conditionally flips it to an exclusive
// in-progress status, so concurrent claimers can never both own a row. No
// in-memory lock guards row state; the store is the only shared resource.
//
// Rows found in an in-progress status at process start are orphans (their
// owner cannot have survived a restart) and are returned to queued by the
// subsystem that owns them before its workers start.
package queue
