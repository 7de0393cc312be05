package sinks

import (
	"context"
	"sort"
	"sync"

	"github.com/layertools/layerpull/internal/progress"
)

// LayerState is a coarse per-layer lifecycle state for display.
type LayerState string

// Registered layer states.
const (
	StatePending      LayerState = "pending"
	StateTransferring LayerState = "transferring"
	StateDone         LayerState = "done"
	StateErrored      LayerState = "errored"
)

// LayerStatus is one row of the status table.
type LayerStatus struct {
	Digest   string     `json:"digest"`
	State    LayerState `json:"state"`
	Received int64      `json:"received"`
	Total    int64      `json:"total"`
}

// StatusSink folds the event stream into an in-memory per-layer status table
// for rendering by the CLI and the HTTP status endpoint. It keeps only the
// latest state per digest; history is a sink concern for another day.
type StatusSink struct {
	mu     sync.Mutex
	layers map[string]*LayerStatus
}

// NewStatusSink returns an empty StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{layers: make(map[string]*LayerStatus)}
}

// Consume folds the batch into the status table.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Digest == "" {
			continue
		}
		row, ok := s.layers[evt.Digest]
		if !ok {
			row = &LayerStatus{Digest: evt.Digest, State: StatePending}
			s.layers[evt.Digest] = row
		}
		switch evt.Phase {
		case progress.PhaseLayerStart:
			row.State = StateTransferring
			row.Total = evt.Total
		case progress.PhaseLayerData:
			row.State = StateTransferring
			row.Received += evt.Bytes
			if evt.Total > 0 {
				row.Total = evt.Total
			}
		case progress.PhaseLayerDone:
			row.State = StateDone
			if evt.Bytes > 0 {
				row.Received = evt.Bytes
			}
		case progress.PhaseLayerError:
			row.State = StateErrored
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

// Snapshot returns the current table sorted by digest for stable output.
func (s *StatusSink) Snapshot() []LayerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LayerStatus, 0, len(s.layers))
	for _, row := range s.layers {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	return out
}

// Reset clears the table between unrelated pull operations.
func (s *StatusSink) Reset() {
	s.mu.Lock()
	s.layers = make(map[string]*LayerStatus)
	s.mu.Unlock()
}
