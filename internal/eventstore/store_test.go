package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/medport-labs/medvoice-core/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	s, err := Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := s.AppendSession(ctx, "sess-1", "user-1", "patient"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	for _, typ := range []string{TypeTranscriptFinal, TypeIntentResolved, TypeActionResult} {
		evt := Event{SessionID: "sess-1", Type: typ, Payload: []byte(`{"ok":true}`)}
		if err := s.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	events, err := s.ListSessionEvents(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != TypeTranscriptFinal || events[2].Type != TypeActionResult {
		t.Fatalf("events out of order: %v, %v, %v", events[0].Type, events[1].Type, events[2].Type)
	}
	if string(events[0].Payload) != `{"ok":true}` {
		t.Fatalf("payload lost: %s", events[0].Payload)
	}
}

func TestAppendSessionUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := s.AppendSession(ctx, "sess-1", "", "patient"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendSession(ctx, "sess-1", "user-9", "provider"); err != nil {
		t.Fatalf("second append must upsert: %v", err)
	}
}

func TestEphemeralModeIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})

	if err := s.AppendSession(ctx, "sess-1", "u", "patient"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{SessionID: "sess-1", Type: TypeActionResult}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := s.ListSessionEvents(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if events != nil {
		t.Fatalf("ephemeral store must not retain events, got %d", len(events))
	}
}

func TestPruneByAge(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 7})

	now := time.Now()
	s.clock = func() time.Time { return now.Add(-30 * 24 * time.Hour) }
	if err := s.AppendSession(ctx, "old", "u", "patient"); err != nil {
		t.Fatalf("append old session: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{SessionID: "old", Type: TypeActionResult}); err != nil {
		t.Fatalf("append old event: %v", err)
	}

	s.clock = func() time.Time { return now }
	if err := s.AppendSession(ctx, "fresh", "u", "patient"); err != nil {
		t.Fatalf("append fresh session: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{SessionID: "fresh", Type: TypeActionResult}); err != nil {
		t.Fatalf("append fresh event: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := s.ListSessionEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list old: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("aged events should be pruned, got %d", len(old))
	}
	fresh, err := s.ListSessionEvents(ctx, "fresh", 10)
	if err != nil {
		t.Fatalf("list fresh: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("fresh events must survive, got %d", len(fresh))
	}
}

func TestListLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := s.AppendSession(ctx, "sess-1", "u", "patient"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.AppendEvent(ctx, Event{SessionID: "sess-1", Type: TypeTranscriptFinal}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
	events, err := s.ListSessionEvents(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("limit not applied, got %d", len(events))
	}
}
