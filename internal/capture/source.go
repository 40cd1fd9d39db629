package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medport-labs/medvoice-core/internal/bus"
	"github.com/medport-labs/medvoice-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Frame is one slice of captured PCM. Final marks an utterance boundary.
type Frame struct {
	PCM   []byte
	Final bool
}

// Source abstracts the audio input owned by a session. Start may be called
// once; Stop releases the underlying capture resource and must be safe to
// call on error paths.
type Source interface {
	Start(ctx context.Context, deliver func(Frame)) error
	Stop() error
}

// BusSource receives audio frames for one session over NATS.
type BusSource struct {
	bus       *bus.Client
	sessionID string
	mu        sync.Mutex
	sub       *nats.Subscription
}

func NewBusSource(busClient *bus.Client, sessionID string) *BusSource {
	return &BusSource{bus: busClient, sessionID: sessionID}
}

func (b *BusSource) Start(_ context.Context, deliver func(Frame)) error {
	if b.bus == nil || !b.bus.Healthy() {
		return fmt.Errorf("audio transport unavailable")
	}
	subject := protocol.SubjectAudioFramePrefix + "." + b.sessionID
	sub, err := b.bus.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.bus.Logger().Warn("failed to decode audio frame", "error", err.Error())
			return
		}
		deliver(Frame{PCM: frame.PCM, Final: frame.Final})
	})
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

func (b *BusSource) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Drain()
	b.sub = nil
	return err
}

// ScriptSource replays canned frames, used by tests and the simulator.
type ScriptSource struct {
	Frames   []Frame
	StartErr error
	stopped  bool
	mu       sync.Mutex
}

func (s *ScriptSource) Start(ctx context.Context, deliver func(Frame)) error {
	if s.StartErr != nil {
		return s.StartErr
	}
	go func() {
		for _, f := range s.Frames {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			deliver(f)
		}
	}()
	return nil
}

func (s *ScriptSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
