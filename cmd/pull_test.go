package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layertools/layerpull/internal/oci"
)

func TestParseLayerArgs(t *testing.T) {
	t.Parallel()

	digest := "sha256:" + strings.Repeat("ab", 32)

	descs, err := parseLayerArgs([]string{digest, digest + "@1024"})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	require.Equal(t, int64(0), descs[0].Size)
	require.Equal(t, int64(1024), descs[1].Size)
	require.Equal(t, oci.MediaTypeLayerGzip, descs[0].MediaType)

	_, err = parseLayerArgs([]string{digest + "@many"})
	require.ErrorContains(t, err, "invalid size")

	_, err = parseLayerArgs([]string{"sha256:short"})
	require.ErrorContains(t, err, "64 characters")

	_, err = parseLayerArgs([]string{"md5:" + strings.Repeat("ab", 32)})
	require.ErrorContains(t, err, "unsupported digest algorithm")
}
