package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/layertools/layerpull/internal/oci"
	"github.com/layertools/layerpull/internal/progress"
	"github.com/layertools/layerpull/internal/storage/memory"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *captureEmitter) Phases() []progress.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Phase, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.Phase
	}
	return out
}

func (c *captureEmitter) DataBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, evt := range c.events {
		if evt.Phase == progress.PhaseLayerData {
			total += evt.Bytes
		}
	}
	return total
}

func testDescriptor(size int64) oci.Descriptor {
	return oci.Descriptor{
		Digest:    "sha256:" + strings.Repeat("ab", 32),
		MediaType: oci.MediaTypeLayerGzip,
		Size:      size,
	}
}

// attemptDest hands out a fresh buffer per open and remembers the last
// closed one, mimicking a commit-on-close destination.
type attemptDest struct {
	mu        sync.Mutex
	opens     int
	committed *bytes.Buffer
}

func (d *attemptDest) open() (io.WriteCloser, error) {
	d.mu.Lock()
	d.opens++
	d.mu.Unlock()
	return &destWriter{dest: d, buf: &bytes.Buffer{}}, nil
}

func (d *attemptDest) bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed == nil {
		return nil
	}
	return d.committed.Bytes()
}

type destWriter struct {
	dest *attemptDest
	buf  *bytes.Buffer
}

func (w *destWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *destWriter) Close() error {
	w.dest.mu.Lock()
	w.dest.committed = w.buf
	w.dest.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:        srv.URL,
		Repository:     "library/test",
		Timeout:        5 * time.Second,
		MaxRetries:     retries,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		HTTPClient:     srv.Client(),
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Options{Repository: "library/test"})
	require.ErrorContains(t, err, "base URL is required")

	_, err = NewClient(Options{BaseURL: "https://registry.example.com"})
	require.ErrorContains(t, err, "repository is required")
}

func TestFetchBlobSuccess(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 1<<16)
	desc := testDescriptor(int64(len(payload)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, fmt.Sprintf("/v2/library/test/blobs/%s", desc.Digest), r.URL.Path)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 0)
	emit := &captureEmitter{}
	dest := &attemptDest{}

	task := progress.TaskID{1}
	require.NoError(t, client.FetchBlob(context.Background(), desc, task, emit, dest.open))
	require.Equal(t, payload, dest.bytes())
	require.Equal(t, 1, dest.opens)

	phases := emit.Phases()
	require.Equal(t, progress.PhaseLayerStart, phases[0])
	require.Equal(t, progress.PhaseLayerDone, phases[len(phases)-1])
	require.Contains(t, phases, progress.PhaseLayerData)
	require.Equal(t, int64(len(payload)), emit.DataBytes())
}

func TestFetchBlobRetriesServerErrors(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(3)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 3)
	emit := &captureEmitter{}
	dest := &attemptDest{}

	require.NoError(t, client.FetchBlob(context.Background(), desc, progress.TaskID{1}, emit, dest.open))
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []byte("abc"), dest.bytes())
}

// TestFetchBlobRetryAfterPartialBody drops the connection after 20 of 43
// body bytes on the first attempt and serves the whole blob on the second.
// The retry must commit exactly the blob's content through a verifying
// store, and the LAYER_DATA deltas must sum to the blob size rather than
// double-counting the re-fetched prefix.
func TestFetchBlobRetryAfterPartialBody(t *testing.T) {
	t.Parallel()

	payload := []byte("forty-three bytes of layer blob content!!!")
	payload = append(payload, 'x')
	require.Len(t, payload, 43)
	sum := sha256.Sum256(payload)
	desc := oci.Descriptor{
		Digest:    "sha256:" + hex.EncodeToString(sum[:]),
		MediaType: oci.MediaTypeLayerGzip,
		Size:      int64(len(payload)),
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = w.Write(payload[:20])
			w.(http.Flusher).Flush()
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 2)
	emit := &captureEmitter{}
	store := memory.NewBlobStore()

	err := client.FetchBlob(context.Background(), desc, progress.TaskID{1}, emit,
		func() (io.WriteCloser, error) { return store.OpenBlob(desc) })
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	got, ok := store.Get(desc.Digest)
	require.True(t, ok, "retry must commit the verified blob")
	require.Equal(t, payload, got)
	require.Equal(t, 1, store.Len())
	require.Equal(t, desc.Size, emit.DataBytes(),
		"re-fetched bytes must not be reported twice")
}

func TestFetchBlobGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 1)
	emit := &captureEmitter{}
	dest := &attemptDest{}

	err := client.FetchBlob(context.Background(), desc, progress.TaskID{1}, emit, dest.open)
	require.ErrorContains(t, err, "fetch blob")

	phases := emit.Phases()
	require.Equal(t, progress.PhaseLayerError, phases[len(phases)-1])
}

func TestFetchBlobNoRetryOnNotFound(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(3)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 3)
	dest := &attemptDest{}
	err := client.FetchBlob(context.Background(), desc, progress.TaskID{1}, &captureEmitter{}, dest.open)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestFetchBlobShortRead(t *testing.T) {
	t.Parallel()

	desc := testDescriptor(10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 0)
	dest := &attemptDest{}
	err := client.FetchBlob(context.Background(), desc, progress.TaskID{1}, &captureEmitter{}, dest.open)
	require.ErrorContains(t, err, "short blob")
}

func TestFetchBlobRejectsBadDescriptor(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 0)
	dest := &attemptDest{}
	err := client.FetchBlob(context.Background(), oci.Descriptor{Digest: "bogus"},
		progress.TaskID{1}, &captureEmitter{}, dest.open)
	require.ErrorContains(t, err, "malformed digest")
}
