// Package daemon ties the pipeline workers and outbox senders together as a
// single-instance background service guarded by a file lock.
package daemon
