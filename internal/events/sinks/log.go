package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/events"
)

// LogSink emits one structured log line per lifecycle event.
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
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event_id", evt.ID),
			zap.String("kind", string(evt.Kind)),
			zap.Int64("request_id", evt.RequestID),
			zap.String("visit_type", evt.VisitType),
			zap.String("origin_url", evt.OriginURL),
			zap.String("status", string(evt.Status)),
			zap.String("task_status", string(evt.LoadingTaskStatus)),
		}
		if evt.PreviousTaskStatus != "" {
			fields = append(fields, zap.String("previous_task_status", string(evt.PreviousTaskStatus)))
		}
		if evt.VisitStatus != nil {
			fields = append(fields, zap.String("visit_status", string(*evt.VisitStatus)))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("save request event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
