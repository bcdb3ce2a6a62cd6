package emit

import (
	"context"
	"log/slog"
	"sort"
)

// LogEmitter writes events through a structured logger.
//
// Warnings and failures log at Warn and Error; everything else at Debug so
// that step chatter stays out of the default Info output.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter returns a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	switch event.Msg {
	case MsgStepWarning:
		level = slog.LevelWarn
	case MsgRequestFailed:
		level = slog.LevelError
	case MsgRequestComplete:
		level = slog.LevelInfo
	}

	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{slog.String("run_id", event.RunID)}
	if event.Phase != "" {
		attrs = append(attrs, slog.String("phase", event.Phase), slog.Int("step", event.Step))
	}

	// Sorted keys keep log lines stable across runs.
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
