// Package registry fetches blobs from an OCI distribution endpoint. It is
// the network-facing collaborator of the scheduler: retries live here, not
// in the scheduler, and each transfer reports its progress through the
// emitter it was handed.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/layertools/layerpull/internal/oci"
	"github.com/layertools/layerpull/internal/progress"
	"github.com/layertools/layerpull/internal/ratelimit"
)

// Options configures the Client.
type Options struct {
	// BaseURL is the registry root, e.g. "https://registry.example.com".
	BaseURL string
	// Repository is the image repository, e.g. "library/ubuntu".
	Repository string
	// Timeout bounds a single blob transfer attempt.
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// BackoffInitial and BackoffMax bound the retry backoff.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	// Limiter throttles request starts. Nil means unlimited.
	Limiter *ratelimit.Limiter
	// Logger is optional.
	Logger *zap.Logger
}

// Client downloads blobs by digest.
type Client struct {
	baseURL    string
	host       string
	repository string
	timeout    time.Duration
	httpClient *http.Client
	retry      *retryPolicy
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// NewClient validates the options and builds a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("registry: base URL is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("registry: parse base URL: %w", err)
	}
	if opts.Repository == "" {
		return nil, fmt.Errorf("registry: repository is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		host:       base.Hostname(),
		repository: opts.Repository,
		timeout:    opts.Timeout,
		httpClient: httpClient,
		retry:      newRetryPolicy(opts.MaxRetries, opts.BackoffInitial, opts.BackoffMax),
		limiter:    opts.Limiter,
		logger:     logger,
	}, nil
}

// httpStatusError reports a non-2xx registry response.
type httpStatusError struct {
	Status int
	URL    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("registry returned %d for %s", e.Status, e.URL)
}

// FetchBlob downloads the blob identified by desc, emitting progress events
// tagged with task. Each attempt gets a fresh destination from open, and the
// destination only commits on Close, so a failed attempt's partial bytes
// never leak into the next attempt. Progress deltas are reported against a
// high-water mark across attempts: bytes re-fetched on retry are not
// counted twice.
func (c *Client) FetchBlob(
	ctx context.Context,
	desc oci.Descriptor,
	task progress.TaskID,
	emit progress.Emitter,
	open func() (io.WriteCloser, error),
) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	start := time.Now()
	emit.Emit(progress.Event{
		Task:   task,
		TS:     start.UTC(),
		Phase:  progress.PhaseLayerStart,
		Digest: desc.Digest,
		Total:  desc.Size,
	})

	meter := &progressMeter{
		task:   task,
		digest: desc.Digest,
		total:  desc.Size,
		emit:   emit,
	}

	var err error
attempts:
	for attempt := 0; ; attempt++ {
		var n int64
		n, err = c.fetchOnce(ctx, desc, meter, open)
		if err == nil {
			emit.Emit(progress.Event{
				Task:   task,
				TS:     time.Now().UTC(),
				Phase:  progress.PhaseLayerDone,
				Digest: desc.Digest,
				Bytes:  n,
				Total:  desc.Size,
				Dur:    time.Since(start),
			})
			return nil
		}
		if !c.retry.shouldRetry(err, attempt) {
			break
		}
		wait := c.retry.backoff(attempt)
		c.logger.Warn("blob fetch failed, retrying",
			zap.String("digest", desc.ShortDigest()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = ctx.Err()
			break attempts
		}
	}

	emit.Emit(progress.Event{
		Task:   task,
		TS:     time.Now().UTC(),
		Phase:  progress.PhaseLayerError,
		Digest: desc.Digest,
		Total:  desc.Size,
		Dur:    time.Since(start),
		Note:   err.Error(),
	})
	return fmt.Errorf("fetch blob %s: %w", desc.ShortDigest(), err)
}

func (c *Client) fetchOnce(
	ctx context.Context,
	desc oci.Descriptor,
	meter *progressMeter,
	open func() (io.WriteCloser, error),
) (int64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.host); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dst, err := open()
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}

	n, err := c.copyBlob(ctx, desc, meter.attemptWriter(dst))
	if err != nil {
		// A failed attempt's partial content is discarded with its
		// destination; the next attempt starts on a fresh one.
		_ = dst.Close()
		return n, err
	}
	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("commit destination: %w", err)
	}
	return n, nil
}

func (c *Client) copyBlob(ctx context.Context, desc oci.Descriptor, w io.Writer) (int64, error) {
	blobURL := fmt.Sprintf("%s/v2/%s/blobs/%s", c.baseURL, c.repository, desc.Digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(desc.MediaType))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &httpStatusError{Status: resp.StatusCode, URL: blobURL}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("copy body: %w", err)
	}
	if desc.Size > 0 && n != desc.Size {
		return n, fmt.Errorf("short blob: got %d bytes, want %d", n, desc.Size)
	}
	return n, nil
}

// progressMeter emits LAYER_DATA deltas against a high-water mark that
// survives retries, so a byte is reported at most once no matter how many
// attempts re-fetch it.
type progressMeter struct {
	task     progress.TaskID
	digest   string
	total    int64
	emit     progress.Emitter
	reported int64
}

// attemptWriter wraps one attempt's destination. Each attempt restarts its
// own byte count from zero; only bytes beyond the meter's high-water mark
// produce events.
func (m *progressMeter) attemptWriter(w io.Writer) io.Writer {
	return &meterWriter{meter: m, w: w}
}

type meterWriter struct {
	meter *progressMeter
	w     io.Writer
	n     int64
}

func (mw *meterWriter) Write(p []byte) (int, error) {
	n, err := mw.w.Write(p)
	if n > 0 {
		mw.n += int64(n)
		if delta := mw.n - mw.meter.reported; delta > 0 {
			mw.meter.reported = mw.n
			mw.meter.emit.Emit(progress.Event{
				Task:   mw.meter.task,
				TS:     time.Now().UTC(),
				Phase:  progress.PhaseLayerData,
				Digest: mw.meter.digest,
				Bytes:  delta,
				Total:  mw.meter.total,
			})
		}
	}
	return n, err
}
