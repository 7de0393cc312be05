// Package progress coordinates progress reporting for concurrent layer
// fetches.
//
// Fetch operations emit Events tagged with a TaskID minted by the
// Coordinator. The Coordinator tracks which tasks are still live: a single
// "current" task for serial flows, and an "active" set for concurrent flows.
// The filtering emitters re-check liveness for every event at delivery time,
// so a fetch that keeps emitting after it has been superseded or completed
// cannot corrupt the observer's view.
//
// The Hub buffers and batches valid events and forwards them to the
// configured sinks without ever blocking the emitting goroutine.
package progress
