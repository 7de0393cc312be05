// Package sinks provides progress.Sink implementations: structured logging,
// Prometheus collectors, and an in-memory status table for display.
package sinks
