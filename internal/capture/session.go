package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medport-labs/medvoice-core/internal/config"
	"github.com/medport-labs/medvoice-core/internal/transcribe"
)

// State is the lifecycle state of a capture session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Transcript is one recognition result emitted by a session.
type Transcript struct {
	Text       string
	Final      bool
	Confidence float64
}

// Error marks a terminal capture failure (no audio transport, permission
// denied). The session does not retry after one.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("capture: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Handlers receive session output. OnFinal is invoked strictly in arrival
// order by a single goroutine; OnInterim delivery is best effort and stops
// when the session stops. OnError receives transcription failures and, at
// most once, a terminal *Error.
type Handlers struct {
	OnInterim func(Transcript)
	OnFinal   func(Transcript)
	OnError   func(error)
}

// Session owns one audio source and drives transcription over its frames.
type Session struct {
	id          string
	cfg         config.CaptureConfig
	source      Source
	transcriber transcribe.Transcriber
	handlers    Handlers
	log         *slog.Logger

	mu            sync.Mutex
	state         State
	buffer        []byte
	lastInterim   time.Time
	inflight      bool
	pendingFinals [][]byte
	errored       bool

	finals   chan Transcript
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	// releaseHook fires exactly once when the source is released.
	releaseHook func()
}

func NewSession(parent context.Context, id string, cfg config.CaptureConfig, source Source, transcriber transcribe.Transcriber, handlers Handlers, log *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	depth := cfg.FinalQueueDepth
	if depth <= 0 {
		depth = 16
	}
	return &Session{
		id:          id,
		cfg:         cfg,
		source:      source,
		transcriber: transcriber,
		handlers:    handlers,
		log:         log.With(slog.String("component", "capture-session"), slog.String("session_id", id)),
		state:       StateIdle,
		finals:      make(chan Transcript, depth),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetReleaseHook registers a hook fired exactly once when the capture
// resource is released, regardless of how many times Stop is called.
func (s *Session) SetReleaseHook(hook func()) {
	s.releaseHook = hook
}

// Start begins producing transcripts until Stop is called or the source
// fails terminally.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session already %s", state)
	}
	s.state = StateListening
	s.mu.Unlock()

	s.wg.Add(1)
	go s.deliverFinals()

	if err := s.source.Start(s.ctx, s.handleFrame); err != nil {
		s.fail(err)
		return &Error{Err: err}
	}
	return nil
}

// Stop releases the capture resource. Idempotent: the release hook and
// source teardown run once no matter how often Stop is called.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateListening {
			s.state = StateStopped
		}
		s.mu.Unlock()

		s.cancel()
		if err := s.source.Stop(); err != nil {
			s.log.Warn("source stop failed", slogError(err))
		}
		if s.releaseHook != nil {
			s.releaseHook()
		}
		s.wg.Wait()
	})
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	alreadyErrored := s.errored
	s.errored = true
	s.state = StateError
	s.mu.Unlock()

	if !alreadyErrored && s.handlers.OnError != nil {
		s.handlers.OnError(&Error{Err: err})
	}
	s.Stop()
}

func (s *Session) handleFrame(frame Frame) {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}
	s.buffer = append(s.buffer, frame.PCM...)
	s.mu.Unlock()

	if s.cfg.PublishInterim && !frame.Final && s.shouldScheduleInterim() {
		s.scheduleTranscription(false)
	}
	if frame.Final {
		s.scheduleTranscription(true)
	}
}

func (s *Session) shouldScheduleInterim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	if s.lastInterim.IsZero() {
		s.lastInterim = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.InterimEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(s.lastInterim) >= interval {
		s.lastInterim = time.Now()
		return true
	}
	return false
}

func (s *Session) scheduleTranscription(final bool) {
	s.mu.Lock()
	if s.inflight {
		if final {
			// Utterance boundary while a request is in flight: snapshot the
			// buffer so every boundary still yields its own transcript.
			s.pendingFinals = append(s.pendingFinals, append([]byte(nil), s.buffer...))
			s.buffer = nil
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), s.buffer...)
	if final {
		// Utterance boundary: frames arriving from here belong to the next one.
		s.buffer = nil
	}
	s.inflight = true
	s.mu.Unlock()

	s.runTranscription(pcm, final)
}

// runTranscription performs one recognition request, then drains the
// utterance snapshots queued while it was in flight, one request each.
func (s *Session) runTranscription(pcm []byte, final bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		result, err := s.transcriber.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels, final)
		if err != nil {
			s.log.Warn("transcription failed", slogError(err))
			if final && s.handlers.OnError != nil && s.ctx.Err() == nil {
				s.handlers.OnError(err)
			}
		} else {
			s.emit(Transcript{Text: result.Text, Final: final, Confidence: result.Confidence})
		}

		s.mu.Lock()
		var next []byte
		hasNext := len(s.pendingFinals) > 0
		if hasNext {
			next = s.pendingFinals[0]
			s.pendingFinals = s.pendingFinals[1:]
		} else {
			s.inflight = false
		}
		if !final {
			s.lastInterim = time.Now()
		}
		s.mu.Unlock()

		if hasNext {
			s.runTranscription(next, true)
		}
	}()
}

func (s *Session) emit(t Transcript) {
	if t.Text == "" {
		return
	}
	if !t.Final {
		if s.handlers.OnInterim != nil && s.ctx.Err() == nil {
			s.handlers.OnInterim(t)
		}
		return
	}
	select {
	case s.finals <- t:
	case <-s.ctx.Done():
	default:
		s.log.Warn("final transcript queue full, dropping", slog.String("text", t.Text))
	}
}

// deliverFinals is the single consumer that hands finals downstream in
// arrival order.
func (s *Session) deliverFinals() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.finals:
			if s.handlers.OnFinal != nil {
				s.handlers.OnFinal(t)
			}
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
