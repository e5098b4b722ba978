package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "test_event", Success: true})
	}
	d.Close()

	delivered := 0
	for {
		select {
		case <-sink.Events():
			delivered++
		default:
			if delivered != 5 {
				t.Fatalf("delivered = %d, want 5", delivered)
			}
			return
		}
	}
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}

	// Nil dispatchers are safe to call.
	d.Emit(context.Background(), AuditEvent{EventType: "ignored"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

// blockingSink never returns until released, pinning the dispatcher
// goroutine so the channel fills up.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(ctx context.Context, _ AuditEvent) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event occupies the sink, one fills the buffer; everything after
	// that is dropped rather than blocking the caller.
	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no events dropped")
		}
		d.Emit(context.Background(), AuditEvent{EventType: "flood"})
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := NewChannelSink(4)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink)
	d.Close()

	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	select {
	case event := <-sink.Events():
		t.Fatalf("event delivered after close: %+v", event)
	default:
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		EventType: "magic_link_verify_success",
		UserID:    "user-1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{
		EventType: "refresh_reuse_detected",
		Error:     "REFRESH_REUSE",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if event.EventType != "magic_link_verify_success" || event.UserID != "user-1" || !event.Success {
		t.Fatalf("event = %+v", event)
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	cfg := engineTestConfig()
	sink := NewChannelSink(64)

	mr, rdb := newTestRedis(t)
	mailer := &captureMailer{}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMailer(mailer).
		WithAuditSink(sink).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	bundle := loginByMagicLink(t, engine, mailer, "audit@example.com")
	if err := engine.SignOut(context.Background(), bundle.UserID, bundle.SessionID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	engine.Close()

	seen := map[string]bool{}
	for {
		select {
		case event := <-sink.Events():
			seen[event.EventType] = true
		default:
			for _, want := range []string{
				auditEventMagicLinkRequest,
				auditEventMagicLinkVerifySuccess,
				auditEventSignout,
			} {
				if !seen[want] {
					t.Fatalf("missing audit event %q; saw %v", want, seen)
				}
			}
			return
		}
	}
}
