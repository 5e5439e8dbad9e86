// Package audit persists the orchestration event stream for after-action
// review. An in-memory log always backs the admin API; a Redis Streams sink
// can mirror entries to external tooling.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citygrid/sentinel/pkg/eventbus"
	"github.com/citygrid/sentinel/pkg/events"
)

const defaultLogLimit = 10000

// Entry is one recorded bus event.
type Entry struct {
	ID         string           `json:"id"`
	Type       events.EventType `json:"type"`
	Key        string           `json:"key"`
	RecordedAt time.Time        `json:"recorded_at"`
	Payload    json.RawMessage  `json:"payload"`
}

// Sink receives entries as they are recorded.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Log is the bounded in-memory audit trail. When full it drops the oldest
// entries.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

// NewLog creates a log capped at limit entries; limit <= 0 uses the default.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	return &Log{limit: limit}
}

func (l *Log) Record(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}

	return nil
}

// Entries returns the most recent entries, newest last. limit <= 0 returns
// everything retained.
func (l *Log) Entries(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if limit > 0 && len(l.entries) > limit {
		start = len(l.entries) - limit
	}

	out := make([]Entry, len(l.entries)-start)
	copy(out, l.entries[start:])

	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// Tap subscribes the sinks to every event type on the bus. Sink failures are
// logged and do not interrupt delivery to other sinks.
func Tap(subscriber eventbus.Subscriber, logger *slog.Logger, sinks ...Sink) {
	types := []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionTimedOutEvent,
		events.ExecutionAbortedEvent,
		events.ActionResolvedEvent,
		events.ActionVetoedEvent,
		events.QueueShedEvent,
		events.PolicyWarningEvent,
	}

	for _, eventType := range types {
		subscriber.Handle(eventType, record(eventType, logger, sinks))
	}
}

func record(eventType events.EventType, logger *slog.Logger, sinks []Sink) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		payload, err := json.Marshal(event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to serialize audit entry", "event_type", eventType, "error", err)

			return nil
		}

		entry := Entry{
			ID:         uuid.New().String(),
			Type:       eventType,
			RecordedAt: time.Now().UTC(),
			Payload:    payload,
		}

		if keyed, ok := event.(eventbus.Event); ok {
			entry.Key = keyed.Key()
		}

		for _, sink := range sinks {
			if err := sink.Record(ctx, entry); err != nil {
				logger.ErrorContext(ctx, "Audit sink failed", "event_type", eventType, "error", err)
			}
		}

		return nil
	}
}
