package progress

import (
	"errors"
	"fmt"
	"time"
)

// Phase denotes the milestone represented by an Event.
type Phase string

// Supported progress phases.
const (
	PhasePullStart  Phase = "PULL_START"
	PhasePullDone   Phase = "PULL_DONE"
	PhasePullError  Phase = "PULL_ERROR"
	PhaseLayerStart Phase = "LAYER_START"
	PhaseLayerData  Phase = "LAYER_DATA"
	PhaseLayerDone  Phase = "LAYER_DONE"
	PhaseLayerError Phase = "LAYER_ERROR"
)

// Event captures a single milestone of pull progress. The payload travels
// unmodified from the emitting fetch operation to the sinks; only the Task
// tag is consulted for filtering.
type Event struct {
	// Task identifies the unit of work the event belongs to.
	Task TaskID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Phase denotes which lifecycle milestone occurred.
	Phase Phase
	// Digest scopes layer events to a blob; empty for pull-level events.
	Digest string
	// Bytes carries the transferred byte delta for LAYER_DATA, and the
	// final byte count for LAYER_DONE.
	Bytes int64
	// Total is the expected size in bytes, zero when unknown.
	Total int64
	// Dur captures elapsed time for terminal events.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Task.IsZero() {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Phase {
	case PhasePullStart, PhasePullDone, PhasePullError:
	case PhaseLayerStart, PhaseLayerData, PhaseLayerDone, PhaseLayerError:
		if e.Digest == "" {
			return fmt.Errorf("%s requires digest", e.Phase)
		}
	default:
		return fmt.Errorf("unknown phase %q", e.Phase)
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	if e.Total < 0 {
		return errors.New("total must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
