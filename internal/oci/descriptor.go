// Package oci defines the descriptor types shared by the scheduler and the
// registry fetcher.
package oci

import (
	"errors"
	"fmt"
	"strings"
)

// MediaType identifies the content kind of a descriptor.
type MediaType string

// Media types the puller commonly encounters.
const (
	MediaTypeLayerGzip MediaType = "application/vnd.oci.image.layer.v1.tar+gzip"
	MediaTypeLayerZstd MediaType = "application/vnd.oci.image.layer.v1.tar+zstd"
	MediaTypeLayerTar  MediaType = "application/vnd.oci.image.layer.v1.tar"
	MediaTypeConfig    MediaType = "application/vnd.oci.image.config.v1+json"
)

// Descriptor identifies one content-addressed blob to fetch. It is an
// immutable value supplied by the caller; the size is a hint used for
// progress totals and may be zero when unknown.
type Descriptor struct {
	Digest    string
	MediaType MediaType
	Size      int64
}

const digestHexLen = 64

// Validate checks that the descriptor carries a plausible sha256 digest.
func (d Descriptor) Validate() error {
	algo, hex, ok := strings.Cut(d.Digest, ":")
	if !ok {
		return fmt.Errorf("malformed digest %q", d.Digest)
	}
	if algo != "sha256" {
		return fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	if len(hex) != digestHexLen {
		return errors.New("digest hex must be 64 characters")
	}
	for _, r := range hex {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("digest hex contains invalid character %q", r)
		}
	}
	if d.Size < 0 {
		return errors.New("size must be >= 0")
	}
	return nil
}

// Hex returns the digest's hex portion without the algorithm prefix.
func (d Descriptor) Hex() string {
	_, hex, ok := strings.Cut(d.Digest, ":")
	if !ok {
		return d.Digest
	}
	return hex
}

// ShortDigest returns the first 12 hex characters for display.
func (d Descriptor) ShortDigest() string {
	_, hex, ok := strings.Cut(d.Digest, ":")
	if !ok {
		hex = d.Digest
	}
	if len(hex) > 12 {
		return hex[:12]
	}
	return hex
}
