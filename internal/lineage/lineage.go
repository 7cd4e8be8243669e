// Package lineage defines the narrow interface to the lineage-tracking
// collaborator: start/complete/fail events naming a job's input and output
// datasets.
package lineage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventType classifies a lineage event.
type EventType string

const (
	EventStart    EventType = "start"
	EventComplete EventType = "complete"
	EventFail     EventType = "fail"
)

// Event asserts that a named job consumed certain input datasets and, on
// completion, produced certain output datasets.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	Inputs     []string  `json:"inputs,omitempty"`
	Outputs    []string  `json:"outputs,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Tracker is implemented by the lineage storage backend.
type Tracker interface {
	Emit(ctx context.Context, event Event) error
}

// Dataset builds the canonical dataset identifier for a source stream at a
// given layer (explore, chart, navigate).
func Dataset(layer, sourceID, stream string) string {
	return fmt.Sprintf("%s.%s.%s", layer, sourceID, stream)
}

// LogTracker emits lineage events to the structured log. It stands in when no
// lineage backend is configured; emission failures never affect job outcome.
type LogTracker struct {
	logger *slog.Logger
}

// NewLogTracker creates a tracker that logs events at info level.
func NewLogTracker(logger *slog.Logger) *LogTracker {
	return &LogTracker{logger: logger}
}

// Emit logs the event.
func (t *LogTracker) Emit(_ context.Context, event Event) error {
	t.logger.Info("lineage event",
		"type", string(event.Type),
		"job_id", event.JobID,
		"inputs", event.Inputs,
		"outputs", event.Outputs,
		"error", event.Error)
	return nil
}
