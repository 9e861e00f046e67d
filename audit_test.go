package leagueauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *captureSink) next(t *testing.T) AuditEvent {
	t.Helper()
	select {
	case event := <-s.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

type memoryAuditStore struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func (s *memoryAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryAuditStore) ListRecent(_ context.Context, orgID string, limit int) ([]*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].OrgID == orgID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("disabled audit config should produce a nil dispatcher")
	}
	d.Emit(context.Background(), AuditEvent{Action: auditLoginSuccess})
	d.Close()
	if got := d.Dropped(); got != 0 {
		t.Fatalf("Dropped on nil dispatcher = %d", got)
	}
}

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := newCaptureSink(8)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.Emit(context.Background(), AuditEvent{Action: auditLoginFailed, OrgID: "org-1"})

	event := sink.next(t)
	if event.Action != auditLoginFailed || event.OrgID != "org-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDispatcherCloseDrainsBuffer(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), AuditEvent{Action: auditLogout})
	}
	d.Close()

	if got := sink.Count(); got != 20 {
		t.Fatalf("sink received %d events after Close, want 20", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 2, DropIfFull: true}, sink)

	// First event parks the worker inside the sink, the next two fill
	// the buffer, everything after that must be dropped.
	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), AuditEvent{Action: auditLoginFailed})
	}

	if got := d.Dropped(); got == 0 {
		t.Fatal("expected drops with a full buffer and a stuck sink")
	}

	close(sink.gate)
	d.Close()
}

func TestDispatcherEmitAfterCloseIsNoop(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink)
	d.Close()

	d.Emit(context.Background(), AuditEvent{Action: auditLogout})
	if got := sink.Count(); got != 0 {
		t.Fatalf("sink received %d events after Close", got)
	}
}

func TestStoreSinkPersistsEntries(t *testing.T) {
	store := &memoryAuditStore{}
	sink := NewStoreSink(store)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		Action:    auditPermissionGranted,
		OrgID:     "org-1",
		UserID:    "u-1",
		Success:   true,
		Metadata:  map[string]string{"method": "password"},
	})
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		Action:    auditLoginFailed,
		OrgID:     "org-1",
		Success:   false,
		Error:     string(auditErrInvalidCredentials),
	})

	entries, err := store.ListRecent(context.Background(), "org-1", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID == "" || entries[1].ID == "" {
		t.Fatal("entries missing generated IDs")
	}
	if entries[0].ID == entries[1].ID {
		t.Fatal("entry IDs must be unique")
	}
	if entries[0].Action != auditLoginFailed {
		t.Fatalf("newest-first ordering broken: %q", entries[0].Action)
	}
	if entries[0].Metadata["error"] != string(auditErrInvalidCredentials) {
		t.Fatalf("error code not carried into metadata: %v", entries[0].Metadata)
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{Action: auditOrgCreated, OrgID: "org-9", Success: true})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["action"] != auditOrgCreated {
		t.Fatalf("action = %v", decoded["action"])
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Fatal("line not newline-terminated")
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	sink := MultiSink{a, nil, b}

	sink.Emit(context.Background(), AuditEvent{Action: auditLogout})

	if a.Count() != 1 || b.Count() != 1 {
		t.Fatalf("fan-out counts = %d, %d", a.Count(), b.Count())
	}
}

func TestChannelSinkDelivers(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), AuditEvent{Action: auditMFAEnabled})

	select {
	case event := <-sink.Events():
		if event.Action != auditMFAEnabled {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatal("no event buffered")
	}
}

func TestAuditErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{fmt.Errorf("login: %w", ErrAccountLocked), auditErrAccountLocked},
		{ErrAccountInactive, auditErrAccountInactive},
		{ErrCrossTenantAccess, auditErrCrossTenant},
		{ErrTokenExpired, auditErrInvalidToken},
		{ErrResetThrottled, auditErrRateLimited},
		{ErrMFAVerificationFailed, auditErrMFAInvalid},
		{ErrSlugTaken, auditErrDuplicate},
		{ErrStoreUnavailable, auditErrUnavailable},
		{errors.New("disk on fire"), auditErrInternal},
	}

	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Errorf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
