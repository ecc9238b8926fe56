package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

const LevelTrace slog.Level = -8

// NewLogger returns a text logger that prints the source file's base name and
// names the trace level TRACE.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

type key string

// Trace logs at LevelTrace on the default logger.
func Trace(msg string, args ...any) {
	TraceContext(context.WithValue(context.TODO(), key("skip"), 1), msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	traceLogger(ctx, slog.Default(), msg, args...)
}

// TraceLogger logs at LevelTrace on logger, attributing the record to the
// caller.
func TraceLogger(logger *slog.Logger, msg string, args ...any) {
	traceLogger(context.TODO(), logger, msg, args...)
}

func traceLogger(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if logger.Enabled(ctx, LevelTrace) {
		skip, _ := ctx.Value(key("skip")).(int)
		var pcs [1]uintptr
		runtime.Callers(3+skip, pcs[:])
		record := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
		record.Add(args...)
		logger.Handler().Handle(ctx, record)
	}
}
