package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/keyword-harvester/internal/events"
)

// LogSink writes each record through a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each record at a level matching its status.
func (s *LogSink) Consume(_ context.Context, batch []events.Record) error {
	for _, rec := range batch {
		fields := []zap.Field{
			zap.String("id", rec.ID.String()),
			zap.Time("timestamp", rec.Timestamp),
			zap.String("event", rec.Event),
			zap.String("status", string(rec.Status)),
			zap.String("source", rec.Source),
		}
		if rec.Message != "" {
			fields = append(fields, zap.String("message", rec.Message))
		}
		if len(rec.Details) > 0 {
			fields = append(fields, zap.Any("details", rec.Details))
		}
		s.logger.Log(levelFor(rec.Status), "event", fields...)
	}
	return nil
}

func levelFor(status events.Status) zapcore.Level {
	switch status {
	case events.StatusError:
		return zapcore.ErrorLevel
	case events.StatusWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements events.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
