package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/medport-labs/medvoice-core/internal/capture"
	"github.com/medport-labs/medvoice-core/internal/config"
	"github.com/medport-labs/medvoice-core/internal/dispatch"
	"github.com/medport-labs/medvoice-core/internal/eventstore"
	"github.com/medport-labs/medvoice-core/internal/identity"
	"github.com/medport-labs/medvoice-core/internal/intent"
	"github.com/medport-labs/medvoice-core/internal/protocol"
	"github.com/medport-labs/medvoice-core/internal/speech"
	"github.com/medport-labs/medvoice-core/internal/transcribe"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTranscriber turns buffered PCM bytes directly into transcript text.
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, pcm []byte, _, _ int, _ bool) (transcribe.Result, error) {
	return transcribe.Result{Text: string(pcm), Confidence: 0.9}, nil
}

// failingTranscriber always reports a transcription failure.
type failingTranscriber struct{}

func (failingTranscriber) Transcribe(_ context.Context, _ []byte, _, _ int, _ bool) (transcribe.Result, error) {
	return transcribe.Result{}, &transcribe.Error{Backend: "test", Err: context.DeadlineExceeded}
}

// spokenRecorder collects the text of every utterance the queue finishes or
// fails, in order.
type spokenRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *spokenRecorder) observe(u *speech.Utterance, s speech.Status) {
	if s != speech.StatusDone && s != speech.StatusFailed {
		return
	}
	r.mu.Lock()
	r.texts = append(r.texts, u.Text)
	r.mu.Unlock()
}

func (r *spokenRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *spokenRecorder) waitForSpoken(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d spoken utterances, have %v", n, r.snapshot())
	return nil
}

type testHarness struct {
	orch        *Orchestrator
	queue       *speech.Queue
	spoken      *spokenRecorder
	source      *capture.ScriptSource
	actions     *httptest.Server
	routes      []string
	transcripts []protocol.Transcript
	mu          sync.Mutex
}

func newHarness(t *testing.T, tr transcribe.Transcriber, provider identity.Provider, handler http.HandlerFunc) *testHarness {
	t.Helper()
	cfg := config.Default()
	cfg.EventStore.RetentionMode = "ephemeral"

	h := &testHarness{
		spoken: &spokenRecorder{},
		source: &capture.ScriptSource{},
	}
	if handler != nil {
		h.actions = httptest.NewServer(handler)
		t.Cleanup(h.actions.Close)
		cfg.Actions.Endpoint = h.actions.URL
	}

	store, err := eventstore.Open(context.Background(), cfg.EventStore, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h.queue = speech.NewQueue(cfg.Speech, speech.NewMockSynth(22050, 1), &speech.MockPlayer{Delay: time.Millisecond}, discardLogger(), speech.WithStatusObserver(h.spoken.observe))
	t.Cleanup(h.queue.Close)

	navigator := dispatch.NavigatorFunc(func(route string) {
		h.mu.Lock()
		h.routes = append(h.routes, route)
		h.mu.Unlock()
	})
	client := dispatch.NewActionClient(cfg.Actions)
	dispatcher := dispatch.NewDispatcher(client, navigator, discardLogger())

	deps := Deps{
		Resolver:    intent.NewResolver(cfg.Grammar.FallbackRoute),
		Dispatcher:  dispatcher,
		Queue:       h.queue,
		Store:       store,
		Identity:    provider,
		Transcriber: tr,
		NewSource:   func(string) capture.Source { return h.source },
		PublishTranscript: func(t protocol.Transcript) {
			h.mu.Lock()
			h.transcripts = append(h.transcripts, t)
			h.mu.Unlock()
		},
	}
	h.orch = New(context.Background(), cfg, deps, discardLogger())
	t.Cleanup(h.orch.Close)
	return h
}

func TestBookAppointmentEndToEnd(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  string            `json:"user_id"`
			Command string            `json:"command"`
			Parsed  map[string]string `json:"parsed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Command != "book_appointment" {
			t.Errorf("unexpected command %q", req.Command)
		}
		if r.Header.Get("Authorization") != "Bearer portal-token" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "Appointment booked"})
	}
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, echoTranscriber{}, provider, handler)

	h.source.Frames = []capture.Frame{{PCM: []byte("book an appointment for tomorrow"), Final: true}}
	if _, err := h.orch.Start(intent.RolePatient); err != nil {
		t.Fatalf("start: %v", err)
	}

	spoken := h.spoken.waitForSpoken(t, 1)
	if spoken[0] != "Appointment booked" {
		t.Fatalf("expected server reply spoken back, got %q", spoken[0])
	}
	if h.orch.State() != StateListening {
		t.Fatalf("session should still be listening, got %s", h.orch.State())
	}

	h.mu.Lock()
	transcripts := append([]protocol.Transcript(nil), h.transcripts...)
	h.mu.Unlock()
	if len(transcripts) != 1 || !transcripts[0].Final || transcripts[0].Text != "book an appointment for tomorrow" {
		t.Fatalf("unexpected published transcripts %+v", transcripts)
	}
}

func TestNavigateEndToEnd(t *testing.T) {
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, echoTranscriber{}, provider, nil)

	h.source.Frames = []capture.Frame{{PCM: []byte("navigate to billing"), Final: true}}
	if _, err := h.orch.Start(intent.RoleAdmin); err != nil {
		t.Fatalf("start: %v", err)
	}

	spoken := h.spoken.waitForSpoken(t, 1)
	if spoken[0] != "Opening invoices." {
		t.Fatalf("unexpected feedback %q", spoken[0])
	}
	h.mu.Lock()
	routes := append([]string(nil), h.routes...)
	h.mu.Unlock()
	if len(routes) != 1 || routes[0] != "/billing/invoices" {
		t.Fatalf("unexpected navigation %v", routes)
	}
}

func TestUnresolvedSpeaksFallback(t *testing.T) {
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, echoTranscriber{}, provider, nil)

	h.source.Frames = []capture.Frame{{PCM: []byte("xyzzy plugh"), Final: true}}
	if _, err := h.orch.Start(intent.RolePatient); err != nil {
		t.Fatalf("start: %v", err)
	}

	spoken := h.spoken.waitForSpoken(t, 1)
	if spoken[0] != "Sorry, I didn't understand that command." {
		t.Fatalf("unexpected feedback %q", spoken[0])
	}
}

func TestTranscriptionFailureSpeaksRetryPrompt(t *testing.T) {
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, failingTranscriber{}, provider, nil)

	h.source.Frames = []capture.Frame{{PCM: []byte("anything"), Final: true}}
	if _, err := h.orch.Start(intent.RolePatient); err != nil {
		t.Fatalf("start: %v", err)
	}

	spoken := h.spoken.waitForSpoken(t, 1)
	if spoken[0] != msgDidntCatch {
		t.Fatalf("unexpected feedback %q", spoken[0])
	}
	if h.orch.State() != StateListening {
		t.Fatalf("transcription failure must not end the session, got %s", h.orch.State())
	}
}

func TestStartReplacesActiveSession(t *testing.T) {
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, echoTranscriber{}, provider, nil)

	first, err := h.orch.Start(intent.RolePatient)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := h.orch.Start(intent.RolePatient)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first == second {
		t.Fatal("second start must open a new session")
	}
	if h.orch.State() != StateListening {
		t.Fatalf("expected listening, got %s", h.orch.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, echoTranscriber{}, provider, nil)

	if _, err := h.orch.Start(intent.RolePatient); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.orch.Stop()
	h.orch.Stop()
	if h.orch.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.orch.State())
	}
}

func TestCaptureFailureIsTerminal(t *testing.T) {
	provider := identity.NewStaticProvider("portal-token", "user-1")
	h := newHarness(t, echoTranscriber{}, provider, nil)

	h.source.StartErr = context.DeadlineExceeded
	if _, err := h.orch.Start(intent.RolePatient); err == nil {
		t.Fatal("expected start error when the source fails")
	}

	spoken := h.spoken.waitForSpoken(t, 1)
	if spoken[0] != msgCaptureFailed {
		t.Fatalf("unexpected feedback %q", spoken[0])
	}
	if h.orch.State() != StateIdle {
		t.Fatalf("capture failure must settle back to idle, got %s", h.orch.State())
	}
}
