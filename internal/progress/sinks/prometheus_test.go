package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/layertools/layerpull/internal/progress"
)

func TestPrometheusSinkLayerLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := taskID(t)
	ctx := context.Background()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		event(id, progress.PhaseLayerStart, "sha256:aaa", 0, 100),
		event(id, progress.PhaseLayerData, "sha256:aaa", 60, 100),
	}))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.layersStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.layersInflight))
	require.Equal(t, float64(60), testutil.ToFloat64(sink.bytesTotal))

	// A repeated LAYER_DONE must not unbalance the gauge.
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		event(id, progress.PhaseLayerDone, "sha256:aaa", 100, 100),
		event(id, progress.PhaseLayerDone, "sha256:aaa", 100, 100),
	}))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.layersInflight))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.layersCompleted.WithLabelValues("success")))
}

func TestPrometheusSinkPullResult(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := taskID(t)
	start := event(id, progress.PhasePullStart, "", 0, 0)
	done := event(id, progress.PhasePullDone, "", 0, 0)
	done.Dur = 3 * time.Second

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, done}))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.pullsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.pullsCompleted.WithLabelValues("success")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pullDuration))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
