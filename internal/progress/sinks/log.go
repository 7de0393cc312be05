package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/layertools/layerpull/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. LAYER_DATA
// ticks are logged at debug level to keep high-volume streams quiet under
// the default production config.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("task", evt.Task.String()),
			zap.String("phase", string(evt.Phase)),
			zap.String("digest", evt.Digest),
			zap.Int64("bytes", evt.Bytes),
			zap.Int64("total", evt.Total),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Phase == progress.PhaseLayerData {
			s.logger.Debug("progress event", fields...)
		} else {
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
