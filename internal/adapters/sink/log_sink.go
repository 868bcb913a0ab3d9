package sink

import (
	"context"
	"log/slog"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// LogSink writes a one-line summary per result. It is the default when no database is
// configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) OnResult(ctx context.Context, r domain.DiagnosticResult) error {
	attrs := []slog.Attr{
		slog.String("job_id", r.JobID),
		slog.String("exam_id", r.ExamID),
		slog.String("status", string(r.Status)),
		slog.Duration("latency", r.Latency),
	}
	if r.Failed() {
		attrs = append(attrs,
			slog.String("failed_stage", string(r.FailedStage)),
			slog.String("reason", string(r.Reason)),
			slog.String("message", r.Message))
		s.logger.LogAttrs(ctx, slog.LevelWarn, "diagnostic_result", attrs...)
		return nil
	}
	attrs = append(attrs,
		slog.String("label", string(r.Label)),
		slog.Float64("confidence", r.Confidence),
		slog.String("urgency", r.Urgency.String()),
		slog.Bool("degraded", r.Degraded))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "diagnostic_result", attrs...)
	return nil
}

var _ ports.ResultSink = (*LogSink)(nil)
