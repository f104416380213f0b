package authgate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
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

type panicSink struct{}

func (panicSink) Emit(context.Context, AuditEvent) {
	panic("sink exploded")
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink, nil)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink, nil)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	sink := &countingSink{}
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, sink, nil)

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	if sink.Count() != 1 {
		t.Fatalf("expected buffered event flushed on close, got %d", sink.Count())
	}
}

func TestAuditDispatcherSurvivesSinkPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
	}, panicSink{}, zap.New(core))

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
	dispatcher.Close()

	if got := logs.FilterMessage("audit sink panicked").Len(); got != 2 {
		t.Fatalf("expected 2 panic logs, got %d", got)
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventRefreshSuccess,
		UserID:    "u1",
		FlightID:  "f1",
		Success:   true,
	})

	if !buf.Contains("refresh_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"user_id\":\"u1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	s := newIdentityServer(t)
	sink := &countingSink{}
	c := newTestClient(t, s, nil, func(b *Builder) { b.WithAuditSink(sink) })

	seedSession(t, c, "stale", "refresh-1")
	resp, err := get(t, c, s.URL()+"/api/profile")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	c.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditRefreshEventsCarryNoSecrets(t *testing.T) {
	s := newIdentityServer(t)
	s.configure(func(s *identityServer) { s.rotate = true })
	sink := NewChannelSink(32)
	c := newTestClient(t, s, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 32
		cfg.Audit.DropIfFull = false
	}, func(b *Builder) { b.WithAuditSink(sink) })

	seedSession(t, c, "stale-access", "refresh-1")
	resp, err := get(t, c, s.URL()+"/api/profile")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	c.Close()

	var events []AuditEvent
collect:
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		default:
			break collect
		}
	}

	var refresh *AuditEvent
	for i := range events {
		if events[i].EventType == auditEventRefreshSuccess {
			refresh = &events[i]
		}
	}
	if refresh == nil {
		t.Fatalf("expected refresh_success event, got %+v", events)
	}
	if refresh.FlightID == "" || refresh.UserID != "user-1" || refresh.Role != "admin" {
		t.Fatalf("unexpected refresh event %+v", refresh)
	}

	needles := []string{"stale-access", "refresh-1", s.currentAccess()}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		for _, needle := range needles {
			if strings.Contains(string(raw), needle) {
				t.Fatalf("token leaked in audit event %s", raw)
			}
		}
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrRefreshExpired, auditErrRefreshExpired},
		{&RecoveryError{Original: &ResponseError{StatusCode: 401}, Err: ErrRefreshUnavailable}, auditErrRefreshUnavail},
		{ErrPendingTimeout, auditErrPendingTimeout},
		{ErrSignedOut, auditErrSignedOut},
		{&ResponseError{StatusCode: 401}, auditErrUnauthorized},
		{&ResponseError{StatusCode: 500}, auditErrUnexpectedStatus},
		{context.Canceled, auditErrInternal},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}

func TestAuditZapSinkLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventRefreshSuccess,
		UserID:    "user-1",
		FlightID:  "f-1",
		Success:   true,
		Metadata:  map[string]string{"rotated": "true"},
	})
	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventRefreshExpired,
		Error:     string(auditErrRefreshExpired),
	})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v, %v", entries[0].Level, entries[1].Level)
	}
	first := entries[0].ContextMap()
	if first["user_id"] != "user-1" || first["meta.rotated"] != "true" || first["flight_id"] != "f-1" {
		t.Fatalf("unexpected fields %v", first)
	}
	if _, ok := first["role"]; ok {
		t.Fatalf("empty role should be omitted: %v", first)
	}
	if got := entries[1].ContextMap()["error"]; got != "refresh_expired" {
		t.Fatalf("unexpected error field %v", got)
	}
}

func TestAuditFilterSinkForwardsListedTypes(t *testing.T) {
	sink := &countingSink{}
	filter := NewFilterSink(sink, auditEventSessionCleared, auditEventLogout)

	for _, ev := range []string{auditEventRefreshSuccess, auditEventSessionCleared, auditEventLogout, auditEventReplayDenied} {
		filter.Emit(context.Background(), AuditEvent{EventType: ev})
	}
	if got := sink.Count(); got != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", got)
	}

	NewFilterSink(nil, auditEventLogout).Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
}
