package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/layertools/layerpull/internal/progress"
)

// PrometheusSink exports pull progress metrics. It owns all collectors for
// pulls started/completed and per-layer transfer counters.
type PrometheusSink struct {
	pullsStarted   prometheus.Counter
	pullsCompleted *prometheus.CounterVec
	pullDuration   *prometheus.HistogramVec

	layersStarted   prometheus.Counter
	layersCompleted *prometheus.CounterVec
	layersInflight  prometheus.Gauge
	bytesTotal      prometheus.Counter

	tracker *layerTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		pullsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layerpull_pulls_started_total",
			Help: "Total pull operations that have started.",
		}),
		pullsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerpull_pulls_completed_total",
			Help: "Total pull operations completed partitioned by result.",
		}, []string{"result"}),
		pullDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "layerpull_pull_duration_seconds",
			Help:    "Wall time per completed pull.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		layersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layerpull_layers_started_total",
			Help: "Total layer fetches admitted.",
		}),
		layersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerpull_layers_completed_total",
			Help: "Total layer fetches finished partitioned by result.",
		}, []string{"result"}),
		layersInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "layerpull_layers_inflight",
			Help: "Layer fetches currently in flight.",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layerpull_bytes_total",
			Help: "Total layer bytes transferred.",
		}),
		tracker: newLayerTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.pullsStarted,
		s.pullsCompleted,
		s.pullDuration,
		s.layersStarted,
		s.layersCompleted,
		s.layersInflight,
		s.bytesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Phase {
	case progress.PhasePullStart:
		s.pullsStarted.Inc()
	case progress.PhasePullDone:
		s.pullsCompleted.WithLabelValues("success").Inc()
		s.observePull(evt, "success")
	case progress.PhasePullError:
		s.pullsCompleted.WithLabelValues("error").Inc()
		s.observePull(evt, "error")
	case progress.PhaseLayerStart:
		s.layersStarted.Inc()
		if s.tracker.start(evt.Task) {
			s.layersInflight.Inc()
		}
	case progress.PhaseLayerData:
		s.bytesTotal.Add(float64(evt.Bytes))
	case progress.PhaseLayerDone:
		s.layersCompleted.WithLabelValues("success").Inc()
		if s.tracker.finish(evt.Task) {
			s.layersInflight.Dec()
		}
	case progress.PhaseLayerError:
		s.layersCompleted.WithLabelValues("error").Inc()
		if s.tracker.finish(evt.Task) {
			s.layersInflight.Dec()
		}
	}
}

func (s *PrometheusSink) observePull(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.pullDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// layerTracker dedupes start/finish transitions so the in-flight gauge stays
// balanced even when an emitter repeats a terminal event.
type layerTracker struct {
	mu      sync.Mutex
	running map[progress.TaskID]struct{}
}

func newLayerTracker() *layerTracker {
	return &layerTracker{running: make(map[progress.TaskID]struct{})}
}

func (t *layerTracker) start(id progress.TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *layerTracker) finish(id progress.TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
