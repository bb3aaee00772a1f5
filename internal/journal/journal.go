// Package journal provides the plant's durable audit journal: completed
// weighings and computed analyses are appended as JSONL to a rotating file,
// so settlement disputes can be traced after the in-memory records are gone.
package journal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Journal records audit events.
type Journal interface {
	// Append writes one event with its attributes.
	Append(event string, attrs map[string]any)
	// Close flushes and closes the underlying file.
	Close()
}

// jsonlHandler is a slog handler that writes each record as one JSON object
// per line, with the event time in "2006-01-02 15:04:05" format and without
// the log level field. All attributes sit at the top level of the object.
type jsonlHandler struct {
	out io.Writer
}

// Handle serializes a record to a single JSONL line.
func (h *jsonlHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	attrs["time"] = r.Time.Format("2006-01-02 15:04:05")

	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "" && a.Value.Any() != nil {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	})

	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	_, err = h.out.Write(append(data, '\n'))
	return err
}

// WithAttrs is not supported.
func (h *jsonlHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	panic("WithAttrs is not supported by jsonlHandler")
}

// WithGroup is not supported.
func (h *jsonlHandler) WithGroup(name string) slog.Handler {
	panic("WithGroup is not supported by jsonlHandler")
}

// Enabled always returns true; the journal has no levels.
func (h *jsonlHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// FileJournal writes audit events to a JSON file with rotation and
// compression via lumberjack. Thread-safe.
type FileJournal struct {
	lumberjack *lumberjack.Logger
	logger     *slog.Logger
}

// NewFileJournal creates a journal writing to the given file.
// Parameters:
//   - file: path of the journal file
//   - maxSize: maximum file size in MB before rotation
//   - maxBackups: how many rotated files to keep
func NewFileJournal(file string, maxSize, maxBackups int) *FileJournal {
	j := FileJournal{}
	j.lumberjack = &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	j.logger = slog.New(&jsonlHandler{out: j.lumberjack})
	return &j
}

// Append writes one event line with the given attributes.
func (j *FileJournal) Append(event string, attrs map[string]any) {
	args := make([]any, 0, 2*len(attrs)+2)
	args = append(args, "event", event)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	j.logger.Info("", args...)
}

// Close closes the underlying file, completing any pending rotation.
func (j *FileJournal) Close() {
	j.lumberjack.Close()
}

// NopJournal discards all events. Used when the journal is not configured
// and in tests.
type NopJournal struct{}

// Append does nothing.
func (NopJournal) Append(string, map[string]any) {}

// Close does nothing.
func (NopJournal) Close() {}
