package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name        string
		development bool
		verbose     bool
		wantLevel   zapcore.Level
	}{
		{name: "production", wantLevel: zapcore.InfoLevel},
		{name: "development", development: true, wantLevel: zapcore.DebugLevel},
		{name: "production verbose", verbose: true, wantLevel: zapcore.DebugLevel},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tc.development, tc.verbose)
			require.NoError(t, err)
			require.NotNil(t, logger)
			require.True(t, logger.Core().Enabled(tc.wantLevel))
		})
	}
}
