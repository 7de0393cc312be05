// Package local implements a content-addressed blob store on the local
// filesystem.
package local

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/layertools/layerpull/internal/oci"
	"github.com/layertools/layerpull/internal/storage"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes layer blobs under <base>/blobs/sha256/<hex>. Content is
// streamed into a temporary file and renamed into place only after the
// digest verifies, so a partially written or corrupted download never
// appears under its final name.
type BlobStore struct {
	baseDir string
}

// New creates a local filesystem-backed blob store rooted at cfg.BaseDir.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// BlobPath returns the final on-disk path for a descriptor's content.
func (s *BlobStore) BlobPath(desc oci.Descriptor) string {
	return filepath.Join(s.baseDir, "blobs", "sha256", desc.Hex())
}

// Has reports whether the blob already exists in the store.
func (s *BlobStore) Has(desc oci.Descriptor) bool {
	info, err := os.Stat(s.BlobPath(desc))
	return err == nil && info.Mode().IsRegular()
}

// OpenBlob returns a writer whose Close verifies the content digest and
// commits the blob into place.
func (s *BlobStore) OpenBlob(desc oci.Descriptor) (io.WriteCloser, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	dir := filepath.Dir(s.BlobPath(desc))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+desc.Hex()+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &blobWriter{
		verify: storage.NewVerifyWriter(tmp, desc),
		tmp:    tmp,
		final:  s.BlobPath(desc),
	}, nil
}

type blobWriter struct {
	verify *storage.VerifyWriter
	tmp    *os.File
	final  string
	closed bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.verify.Write(p)
}

// Close verifies the digest and renames the temp file into place. On any
// failure the temp file is removed and the final path is left untouched.
func (w *blobWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := w.verify.Commit(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return err
	}
	if err := os.Rename(w.tmp.Name(), w.final); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}
