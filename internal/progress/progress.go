// Package progress emits run lifecycle events to observers.
//
// Event order within one run is sync_started, zero or more sync_progress,
// then exactly one of sync_completed or sync_failed. Seq is a logical clock
// that starts at 1 per run. Sinks never influence the run: emit failures are
// logged and dropped.
package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/issuesync/internal/ir"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventStarted   EventType = "sync_started"
	EventProgress  EventType = "sync_progress"
	EventCompleted EventType = "sync_completed"
	EventFailed    EventType = "sync_failed"
)

// Event is one progress notification.
type Event struct {
	Type      EventType    `json:"type"`
	RunID     string       `json:"run_id"`
	Remote    string       `json:"remote"`
	Direction ir.Direction `json:"direction"`
	Seq       int64        `json:"seq"`
	Processed int          `json:"processed,omitempty"`
	Total     int          `json:"total,omitempty"`
	Summary   *ir.Counts   `json:"summary,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Emitter stamps events for one run and fans them out to a sink.
type Emitter struct {
	sink      Sink
	logger    *slog.Logger
	runID     string
	remote    string
	direction ir.Direction
	clock     *Clock
}

// NewEmitter creates an emitter for one run. A nil sink discards events.
func NewEmitter(sink Sink, logger *slog.Logger, runID, remote string, direction ir.Direction) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, logger: logger, runID: runID, remote: remote, direction: direction, clock: NewClock()}
}

// Started emits sync_started.
func (e *Emitter) Started(ctx context.Context) {
	e.emit(ctx, Event{Type: EventStarted})
}

// Progress emits sync_progress.
func (e *Emitter) Progress(ctx context.Context, processed, total int) {
	e.emit(ctx, Event{Type: EventProgress, Processed: processed, Total: total})
}

// Completed emits sync_completed with the final counts.
func (e *Emitter) Completed(ctx context.Context, counts ir.Counts) {
	e.emit(ctx, Event{Type: EventCompleted, Processed: counts.Total(), Total: counts.Total(), Summary: &counts})
}

// Failed emits sync_failed.
func (e *Emitter) Failed(ctx context.Context, reason string) {
	e.emit(ctx, Event{Type: EventFailed, Reason: reason})
}

func (e *Emitter) emit(ctx context.Context, event Event) {
	if e == nil || e.sink == nil {
		return
	}
	event.RunID = e.runID
	event.Remote = e.remote
	event.Direction = e.direction
	event.Seq = e.clock.Next()
	// A cancelled run still reports its terminal event.
	if err := e.sink.Emit(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn("progress sink failed",
			"event", event.Type,
			"run_id", e.runID,
			"error", err)
	}
}

// Multi fans an event out to every sink. All sinks are tried; the first
// error is returned.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, event Event) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(_ context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"run_id", event.RunID,
		"remote", event.Remote,
		"direction", event.Direction,
		"seq", event.Seq,
	}
	switch event.Type {
	case EventProgress:
		logger.Debug(string(event.Type), append(attrs, "processed", event.Processed, "total", event.Total)...)
	case EventCompleted:
		if event.Summary != nil {
			attrs = append(attrs,
				"created", event.Summary.Created,
				"updated", event.Summary.Updated,
				"skipped", event.Summary.Skipped,
				"failed", event.Summary.Failed)
		}
		logger.Info(string(event.Type), attrs...)
	case EventFailed:
		logger.Error(string(event.Type), append(attrs, "reason", event.Reason)...)
	default:
		logger.Info(string(event.Type), attrs...)
	}
	return nil
}

// Recorder keeps events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}
