package xdb

import (
	"context"
	"log/slog"
)

// Recorder receives the rendered text of every statement right before it is
// sent to a target. It is the hook for SQL profilers and statement logs.
type Recorder interface {
	RecordStatement(text string)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(text string)

func (f RecorderFunc) RecordStatement(text string) { f(text) }

// SlogRecorder records statements on l at Info level under the "sql" key.
func SlogRecorder(l *slog.Logger) Recorder {
	return RecorderFunc(func(text string) {
		l.LogAttrs(context.Background(), slog.LevelInfo, "xdb statement", slog.String("sql", text))
	})
}
