package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/JonMunkholm/stockimport/internal/logging"
)

// EventType is the kind of a progress event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ProgressEvent is a coarse progress notification for one run. Payload keys
// are flattened into the JSON object next to the fixed fields.
type ProgressEvent struct {
	Type      EventType
	Progress  int
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// MarshalJSON renders {type, progress, run_id, timestamp, ...payload}.
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		m[k] = v
	}
	m["type"] = e.Type
	m["progress"] = e.Progress
	m["run_id"] = e.RunID
	m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = ProgressEvent{Payload: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "type":
			s, _ := v.(string)
			e.Type = EventType(s)
		case "progress":
			f, _ := v.(float64)
			e.Progress = int(f)
		case "run_id":
			e.RunID, _ = v.(string)
		case "timestamp":
			s, _ := v.(string)
			e.Timestamp, _ = time.Parse(time.RFC3339, s)
		default:
			e.Payload[k] = v
		}
	}
	return nil
}

// ProgressReporter receives progress events. Implementations must not block
// the pipeline for long.
type ProgressReporter interface {
	Report(ctx context.Context, ev ProgressEvent)
}

// ReporterFunc adapts a function to ProgressReporter.
type ReporterFunc func(ctx context.Context, ev ProgressEvent)

func (f ReporterFunc) Report(ctx context.Context, ev ProgressEvent) { f(ctx, ev) }

// MultiReporter fans one event out to several reporters.
type MultiReporter []ProgressReporter

func (m MultiReporter) Report(ctx context.Context, ev ProgressEvent) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

// LogReporter writes events to the context logger.
type LogReporter struct{}

func (LogReporter) Report(ctx context.Context, ev ProgressEvent) {
	level := slog.LevelDebug
	switch ev.Type {
	case EventComplete:
		level = slog.LevelInfo
	case EventError:
		level = slog.LevelError
	}
	args := []any{"type", ev.Type, "progress", ev.Progress}
	for k, v := range ev.Payload {
		if k == "invalid_records" {
			continue
		}
		args = append(args, k, v)
	}
	logging.FromContext(ctx).Log(ctx, level, "import progress", args...)
}
