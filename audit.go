package leagueauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/openleague/leagueauth/internal/ids"
)

// AuditEvent is one security-relevant occurrence on its way to a sink.
// Metadata never contains secrets, hashes, or token material.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	UserID     string            `json:"user_id,omitempty"`
	OrgID      string            `json:"org_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the engine's dispatcher. Emit must not
// block indefinitely and must never panic; sink failures are invisible
// to the operation that produced the event.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel, mostly for tests
// and for embedding apps that run their own fan-out.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// StoreSink persists events as audit rows. Append errors are swallowed:
// a broken audit table must not take logins down with it.
type StoreSink struct {
	store AuditStore
}

func NewStoreSink(store AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.store == nil {
		return
	}

	entry := &AuditEntry{
		ID:         ids.NewULID(),
		OrgID:      event.OrgID,
		UserID:     event.UserID,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Metadata:   event.Metadata,
		Success:    event.Success,
		IP:         event.IP,
		CreatedAt:  event.Timestamp,
	}
	if event.Error != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]string{}
		}
		entry.Metadata["error"] = event.Error
	}

	_ = s.store.Append(ctx, entry)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []AuditSink

func (s MultiSink) Emit(ctx context.Context, event AuditEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
