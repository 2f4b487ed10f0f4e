package observe

import (
	"context"
	"log/slog"
)

// SlogReporter writes events to a structured logger.
//
// Field coercion failures log at DEBUG, dropped lines and skipped rows at
// WARN, batch fallbacks and progress at INFO.
type SlogReporter struct {
	logger *slog.Logger
}

// NewSlogReporter returns a reporter that logs through logger, or through
// slog.Default() when logger is nil.
func NewSlogReporter(logger *slog.Logger) *SlogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogReporter{logger: logger}
}

// Report logs e at the level for its kind.
func (s *SlogReporter) Report(e Event) {
	ctx := context.Background()
	log := s.logger.With("event", e.Kind.String())
	if e.RunID != "" {
		log = log.With("run_id", e.RunID)
	}
	if e.FileType != "" {
		log = log.With("file_type", e.FileType)
	}

	switch e.Kind {
	case FieldCoerceFailed:
		log.DebugContext(ctx, "field coercion failed, storing null",
			"line", e.Line, "column", e.Column, "value", e.Value, "error", e.Err)
	case LineDropped:
		log.WarnContext(ctx, "dropping unparseable line", "line", e.Line, "error", e.Err)
	case BatchRejected:
		log.InfoContext(ctx, "batch insert failed, retrying rows individually",
			"table", e.Table, "rows", e.Rows, "error", e.Err)
	case RowSkipped:
		log.WarnContext(ctx, "row rejected by store", "table", e.Table, "error", e.Err)
	case Progress:
		if e.Percent > 0 {
			log.InfoContext(ctx, "load progress", "table", e.Table, "rows", e.Rows, "percent", e.Percent)
			return
		}
		log.InfoContext(ctx, "load progress", "table", e.Table, "rows", e.Rows)
	case FileStarted:
		log.InfoContext(ctx, "loading file", "table", e.Table)
	case FileFinished:
		if e.Err != nil {
			log.ErrorContext(ctx, "file load failed",
				"table", e.Table, "rows", e.Rows, "duration", e.Duration, "error", e.Err)
			return
		}
		if e.Skipped > 0 {
			log.WarnContext(ctx, "file load complete with skipped rows",
				"table", e.Table, "rows", e.Rows, "skipped", e.Skipped, "status", e.Status, "duration", e.Duration)
			return
		}
		log.InfoContext(ctx, "file load complete",
			"table", e.Table, "rows", e.Rows, "status", e.Status, "duration", e.Duration)
	case BatchCommitted:
		log.DebugContext(ctx, "batch committed", "table", e.Table, "rows", e.Rows)
	}
}
