package pipeline

import (
	"context"
	"log/slog"
)

// Reporter is the sink for per-record failures. Implementations must be
// safe for concurrent use.
type Reporter interface {
	Report(ctx context.Context, err error, keyvals ...any)
}

// LogReporter reports failures through structured logging.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error, keyvals ...any) {
	args := append([]any{"error", err}, keyvals...)
	r.logger.ErrorContext(ctx, "event processing failed", args...)
}
