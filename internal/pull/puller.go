// Package pull wires the scheduler, the progress coordinator, and the blob
// fetcher into one pull operation.
package pull

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/layertools/layerpull/internal/oci"
	"github.com/layertools/layerpull/internal/progress"
	"github.com/layertools/layerpull/internal/scheduler"
)

// BlobFetcher downloads one blob, emitting progress through emit. It calls
// open once per transfer attempt and closes whatever it opened.
// registry.Client satisfies this interface.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, desc oci.Descriptor, task progress.TaskID, emit progress.Emitter, open func() (io.WriteCloser, error)) error
}

// BlobOpener returns a fresh destination writer for one descriptor. It is
// invoked per fetch attempt, so a retried transfer never appends to a
// previous attempt's partial output; the writer commits its content on
// Close.
type BlobOpener func(desc oci.Descriptor) (io.WriteCloser, error)

// Options configures a Puller.
type Options struct {
	// MaxConcurrent bounds the number of layers in flight; must be >= 1.
	MaxConcurrent int
	// Open supplies the destination for each blob. Defaults to a discard
	// writer, which is useful for prefetch/warming flows.
	Open BlobOpener
	// Logger is optional.
	Logger *zap.Logger
}

// Puller runs bounded-concurrency layer pulls with coordinated progress.
type Puller struct {
	coord   *progress.Coordinator
	emitter progress.Emitter
	fetcher BlobFetcher
	opts    Options
	logger  *zap.Logger
}

// New builds a Puller emitting into emitter (usually a progress.Hub).
func New(coord *progress.Coordinator, emitter progress.Emitter, fetcher BlobFetcher, opts Options) (*Puller, error) {
	if coord == nil {
		return nil, fmt.Errorf("pull: coordinator is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("pull: fetcher is required")
	}
	if opts.MaxConcurrent < 1 {
		return nil, fmt.Errorf("pull: %w, got %d", scheduler.ErrInvalidConcurrency, opts.MaxConcurrent)
	}
	if opts.Open == nil {
		opts.Open = discardOpener
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Puller{
		coord:   coord,
		emitter: emitter,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Pull fetches all descriptors and blocks until every admitted fetch has
// terminated. Duplicate digests are fetched once. It returns nil only if
// every descriptor succeeded; otherwise the first failure in completion
// order.
//
// Each layer gets its own task handle in the coordinator's active set, and
// its events pass through an active-mode filter, so a layer that finished or
// a pull that was torn down can keep emitting without corrupting the
// observer. The pull itself runs under a current-mode handle; starting a
// second Pull on the same coordinator supersedes the first one's pull-level
// events.
func (p *Puller) Pull(ctx context.Context, descriptors []oci.Descriptor) error {
	descriptors = dedupe(descriptors)
	start := time.Now()
	pullTask := p.coord.StartTask()
	pullEmit := p.coord.CurrentEmitter(pullTask, p.emitter)
	defer p.coord.Finish()

	var total int64
	for _, desc := range descriptors {
		total += desc.Size
	}
	pullEmit.Emit(progress.Event{
		Task:  pullTask,
		TS:    start.UTC(),
		Phase: progress.PhasePullStart,
		Total: total,
	})

	tasks := p.coord.StartConcurrentTasks(len(descriptors))
	taskFor := make(map[string]progress.TaskID, len(descriptors))
	for i, desc := range descriptors {
		taskFor[desc.Digest] = tasks[i]
	}

	err := scheduler.Run(ctx, descriptors, p.opts.MaxConcurrent, func(ctx context.Context, desc oci.Descriptor) error {
		task := taskFor[desc.Digest]
		defer p.coord.CompleteTask(task)
		return p.fetchLayer(ctx, desc, task)
	})

	phase := progress.PhasePullDone
	note := ""
	if err != nil {
		phase = progress.PhasePullError
		note = err.Error()
	}
	pullEmit.Emit(progress.Event{
		Task:  pullTask,
		TS:    time.Now().UTC(),
		Phase: phase,
		Total: total,
		Dur:   time.Since(start),
		Note:  note,
	})
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	p.logger.Info("pull complete",
		zap.Int("layers", len(descriptors)),
		zap.Int64("bytes", total),
		zap.Duration("dur", time.Since(start)),
	)
	return nil
}

func (p *Puller) fetchLayer(ctx context.Context, desc oci.Descriptor, task progress.TaskID) error {
	emit := p.coord.ActiveEmitter(task, p.emitter)
	return p.fetcher.FetchBlob(ctx, desc, task, emit, func() (io.WriteCloser, error) {
		return p.opts.Open(desc)
	})
}

// dedupe keeps the first occurrence of each digest. A repeated digest names
// identical content, and one fetch per digest keeps the digest-keyed task
// mapping unambiguous.
func dedupe(descriptors []oci.Descriptor) []oci.Descriptor {
	seen := make(map[string]struct{}, len(descriptors))
	out := descriptors[:0:0]
	for _, desc := range descriptors {
		if _, ok := seen[desc.Digest]; ok {
			continue
		}
		seen[desc.Digest] = struct{}{}
		out = append(out, desc)
	}
	return out
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func discardOpener(oci.Descriptor) (io.WriteCloser, error) {
	return nopWriteCloser{io.Discard}, nil
}
