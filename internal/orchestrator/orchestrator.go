package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
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

// State is the orchestrator's coarse lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	msgCaptureFailed = "Voice capture is unavailable right now."
	msgDidntCatch    = "I didn't catch that."
)

// Deps are the collaborators composed by the orchestrator.
type Deps struct {
	Resolver    *intent.Resolver
	Dispatcher  *dispatch.Dispatcher
	Queue       *speech.Queue
	Store       *eventstore.Store
	Identity    identity.Provider
	Transcriber transcribe.Transcriber
	NewSource   func(sessionID string) capture.Source

	// PublishTranscript, when set, receives every transcript for fan-out to
	// portal clients.
	PublishTranscript func(protocol.Transcript)
}

// Orchestrator wires capture, resolution, dispatch, and spoken feedback for
// at most one active voice session at a time. Every stage failure is
// absorbed here; none terminates the orchestrator.
type Orchestrator struct {
	cfg  config.Config
	deps Deps
	log  *slog.Logger

	parent context.Context

	mu      sync.Mutex
	state   State
	session *capture.Session

	wg sync.WaitGroup
}

func New(parent context.Context, cfg config.Config, deps Deps, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		log:    log.With(slog.String("component", "orchestrator")),
		parent: parent,
		state:  StateIdle,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start opens a new voice session for the given role. If a session is
// already active it is stopped first: one microphone owner at a time.
func (o *Orchestrator) Start(role intent.Role) (string, error) {
	o.mu.Lock()
	previous := o.session
	o.session = nil
	o.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	sessionID := uuid.NewString()
	source := o.deps.NewSource(sessionID)
	handlers := capture.Handlers{
		OnInterim: func(t capture.Transcript) {
			o.log.Debug("interim transcript", slog.String("text", t.Text))
			o.publishTranscript(sessionID, t)
		},
		OnFinal: func(t capture.Transcript) {
			o.handleFinal(sessionID, role, t)
		},
		OnError: func(err error) {
			o.handleError(sessionID, err)
		},
	}
	session := capture.NewSession(o.parent, sessionID, o.cfg.Capture, source, o.deps.Transcriber, handlers, o.log)

	o.mu.Lock()
	o.session = session
	o.state = StateListening
	o.mu.Unlock()

	if err := session.Start(); err != nil {
		o.mu.Lock()
		if o.session == session {
			o.session = nil
		}
		o.state = StateIdle
		o.mu.Unlock()
		return "", err
	}

	var userID string
	if auth := o.deps.Identity.Current(); auth != nil {
		userID = auth.UserID
	}
	if err := o.deps.Store.AppendSession(o.parent, sessionID, userID, string(role)); err != nil {
		o.log.Warn("failed to record session", slogError(err))
	}

	o.log.Info("voice session started",
		slog.String("session_id", sessionID), slog.String("role", string(role)))
	return sessionID, nil
}

// Stop ends the active session, if any, and returns to idle. Safe to call
// repeatedly. In-flight dispatches are not cancelled; their results still
// reach the feedback queue.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	session := o.session
	o.session = nil
	o.state = StateIdle
	o.mu.Unlock()

	if session != nil {
		session.Stop()
		o.log.Info("voice session stopped", slog.String("session_id", session.ID()))
	}
}

// Close stops the session and waits for in-flight dispatches to finish.
func (o *Orchestrator) Close() {
	o.Stop()
	o.wg.Wait()
}

// handleFinal runs on the session's single delivery goroutine, so transcripts
// are resolved strictly in arrival order. Dispatch runs concurrently so a
// slow remote action never blocks capture or resolution.
func (o *Orchestrator) handleFinal(sessionID string, role intent.Role, t capture.Transcript) {
	o.publishTranscript(sessionID, t)
	o.record(sessionID, eventstore.TypeTranscriptFinal, map[string]any{
		"text":       t.Text,
		"confidence": t.Confidence,
	})

	resolved := o.deps.Resolver.Resolve(t.Text, role)
	o.record(sessionID, eventstore.TypeIntentResolved, map[string]any{
		"command": string(resolved.Command),
		"slots":   resolved.Slots,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timeout := time.Duration(o.cfg.Actions.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		// Deliberately not tied to the session: stopping capture does not
		// cancel a dispatch already underway.
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		auth := o.deps.Identity.Current()
		result := o.deps.Dispatcher.Dispatch(ctx, resolved, auth)
		o.record(sessionID, eventstore.TypeActionResult, map[string]any{
			"command": string(resolved.Command),
			"success": result.Success,
			"message": result.Message,
		})
		o.speak(result.Message)
	}()
}

func (o *Orchestrator) handleError(sessionID string, err error) {
	var captureErr *capture.Error
	if errors.As(err, &captureErr) {
		// Terminal: the session already released the microphone. No restart.
		o.log.Error("capture failed", slogError(err))
		o.record(sessionID, eventstore.TypeCaptureError, map[string]any{
			"error": err.Error(),
		})
		o.mu.Lock()
		o.session = nil
		o.state = StateError
		o.mu.Unlock()
		o.speak(msgCaptureFailed)

		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
		return
	}

	var transcribeErr *transcribe.Error
	if errors.As(err, &transcribeErr) {
		o.log.Warn("transcription failed", slogError(err))
		o.speak(msgDidntCatch)
		return
	}

	o.log.Warn("voice session error", slogError(err))
	o.speak(msgDidntCatch)
}

func (o *Orchestrator) publishTranscript(sessionID string, t capture.Transcript) {
	if o.deps.PublishTranscript == nil {
		return
	}
	o.deps.PublishTranscript(protocol.Transcript{
		SessionID:  sessionID,
		Text:       t.Text,
		Final:      t.Final,
		Timestamp:  time.Now().UTC(),
		Confidence: t.Confidence,
	})
}

func (o *Orchestrator) speak(text string) {
	if text == "" {
		return
	}
	o.deps.Queue.Enqueue(speech.NewUtterance(text, o.cfg.Speech.Voice))
}

func (o *Orchestrator) record(sessionID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.log.Warn("failed to marshal event payload", slogError(err))
		return
	}
	evt := eventstore.Event{SessionID: sessionID, Type: eventType, Payload: data}
	if err := o.deps.Store.AppendEvent(o.parent, evt); err != nil {
		o.log.Warn("failed to record event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
