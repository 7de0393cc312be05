// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/layertools/layerpull/internal/oci"
	"github.com/layertools/layerpull/internal/storage"
)

// BlobStore keeps verified blobs in a map keyed by digest.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// OpenBlob returns a writer whose Close verifies the digest and stores the
// content. Unverified content is never visible through Get.
func (s *BlobStore) OpenBlob(desc oci.Descriptor) (io.WriteCloser, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	var buf bytes.Buffer
	return &blobWriter{
		verify: storage.NewVerifyWriter(&buf, desc),
		buf:    &buf,
		store:  s,
		digest: desc.Digest,
	}, nil
}

// Get returns a copy of a committed blob's content.
func (s *BlobStore) Get(digest string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[digest]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Len returns the number of committed blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type blobWriter struct {
	verify *storage.VerifyWriter
	buf    *bytes.Buffer
	store  *BlobStore
	digest string
	closed bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.verify.Write(p)
}

func (w *blobWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.verify.Commit(); err != nil {
		return err
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.data[w.digest] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}
