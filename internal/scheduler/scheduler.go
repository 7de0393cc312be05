// Package scheduler runs a bounded sliding window of layer fetches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/layertools/layerpull/internal/oci"
)

// FetchFunc performs the transfer for one descriptor. It may emit progress
// events through whatever emitter it was built with; the scheduler only
// cares about the returned error.
type FetchFunc func(ctx context.Context, desc oci.Descriptor) error

// ErrInvalidConcurrency is returned before any work is admitted when the
// concurrency limit is below 1.
var ErrInvalidConcurrency = errors.New("scheduler: max concurrent must be at least 1")

// FetchError records the failure of a single descriptor so the caller can
// retry that unit alone.
type FetchError struct {
	Desc oci.Descriptor
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Desc.ShortDigest(), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Run fetches descriptors with at most maxConcurrent operations in flight.
//
// Admission follows input order: descriptor i is never admitted before j for
// j < i. Completion order is unconstrained. On the first failure observed in
// completion order, already-admitted fetches drain to natural completion and
// that failure becomes the aggregate result; there is no hard cancellation
// of siblings. The replacement admission already waiting on the freed slot
// still proceeds, so a failure never stalls the window.
//
// An empty descriptor list succeeds immediately.
func Run(ctx context.Context, descriptors []oci.Descriptor, maxConcurrent int, fetch FetchFunc) error {
	if maxConcurrent < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidConcurrency, maxConcurrent)
	}
	if len(descriptors) == 0 {
		return nil
	}

	var (
		sem      = make(chan struct{}, maxConcurrent)
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	record := func(desc oci.Descriptor, err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = &FetchError{Desc: desc, Err: err}
		}
		mu.Unlock()
	}
	halted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

admit:
	for _, desc := range descriptors {
		if halted() {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break admit
		}
		wg.Add(1)
		go func(desc oci.Descriptor) {
			defer wg.Done()
			if err := fetch(ctx, desc); err != nil {
				record(desc, err)
			}
			// The admission loop is already parked on this slot for
			// the next descriptor, so a failing fetch still hands
			// its slot to exactly one replacement; the loop's halt
			// check stops everything after that.
			<-sem
		}(desc)
	}
	wg.Wait()

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("scheduler: %w", ctx.Err())
	}
	return nil
}
