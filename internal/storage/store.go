// Package storage defines the blob store contract shared by the concrete
// backends. A store receives layer bytes as they stream in and commits them
// under their digest only after the content has been verified.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/layertools/layerpull/internal/oci"
)

// BlobStore persists layer content keyed by digest.
type BlobStore interface {
	// OpenBlob returns a writer for the descriptor's content. Close verifies
	// the bytes against the descriptor digest and commits the blob; a digest
	// mismatch fails the Close and discards the content.
	OpenBlob(desc oci.Descriptor) (io.WriteCloser, error)
}

// ErrDigestMismatch is wrapped into Close errors when committed content does
// not hash to the descriptor's digest.
var ErrDigestMismatch = fmt.Errorf("content digest mismatch")

// VerifyWriter hashes everything written through it and checks the sum
// against an expected digest on Commit.
type VerifyWriter struct {
	w        io.Writer
	h        hash.Hash
	expected string
}

// NewVerifyWriter wraps w with SHA-256 verification against desc.Digest.
func NewVerifyWriter(w io.Writer, desc oci.Descriptor) *VerifyWriter {
	return &VerifyWriter{
		w:        w,
		h:        sha256.New(),
		expected: desc.Hex(),
	}
}

func (v *VerifyWriter) Write(p []byte) (int, error) {
	n, err := v.w.Write(p)
	if n > 0 {
		v.h.Write(p[:n])
	}
	return n, err
}

// Commit checks the accumulated hash against the expected digest.
func (v *VerifyWriter) Commit() error {
	sum := hex.EncodeToString(v.h.Sum(nil))
	if sum != v.expected {
		return fmt.Errorf("%w: want sha256:%s, got sha256:%s", ErrDigestMismatch, v.expected, sum)
	}
	return nil
}
