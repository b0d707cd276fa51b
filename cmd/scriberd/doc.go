// Package main hosts the scriberd CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the foreground daemon, queue and
// outbox maintenance, job submission, SMTP and webhook smoke tests, and
// configuration scaffolding. It centralizes configuration resolution and
// store access so subcommands can focus on user experience instead of
// wiring.
package main
