package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/layertools/layerpull/internal/progress"
	"github.com/layertools/layerpull/internal/progress/sinks"
)

func newTestServer(t *testing.T, status *sinks.StatusSink) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(status, prometheus.NewRegistry(), nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, sinks.NewStatusSink())
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, sinks.NewStatusSink())
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	status := sinks.NewStatusSink()
	require.NoError(t, status.Consume(context.Background(), []progress.Event{
		{
			Task:   progress.TaskID(uuid.New()),
			TS:     time.Now().UTC(),
			Phase:  progress.PhaseLayerStart,
			Digest: "sha256:aaa",
			Total:  100,
		},
	}))

	srv := newTestServer(t, status)
	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Layers []sinks.LayerStatus `json:"layers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Layers, 1)
	require.Equal(t, "sha256:aaa", payload.Layers[0].Digest)
	require.Equal(t, sinks.StateTransferring, payload.Layers[0].State)
}

func TestStatusEndpointWithoutSink(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
