package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medport-labs/medvoice-core/internal/config"
)

// Queue serializes spoken feedback. A single consumer goroutine advances one
// utterance through synthesis and playback before dequeuing the next, so at
// most one utterance is ever playing and spoken order is enqueue order even
// with concurrent producers.
type Queue struct {
	cfg    config.SpeechConfig
	synth  Synthesizer
	player Player
	log    *slog.Logger

	items chan *Utterance
	stop  chan struct{}
	done  chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	onStatus func(*Utterance, Status)
	metrics  *queueMetrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithStatusObserver registers a callback invoked on every utterance status
// transition, from the consumer goroutine.
func WithStatusObserver(fn func(*Utterance, Status)) Option {
	return func(q *Queue) { q.onStatus = fn }
}

func NewQueue(cfg config.SpeechConfig, synth Synthesizer, player Player, log *slog.Logger, opts ...Option) *Queue {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 32
	}
	q := &Queue{
		cfg:    cfg,
		synth:  synth,
		player: player,
		log:    log.With(slog.String("component", "speech-queue")),
		items:  make(chan *Utterance, depth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if m, err := newQueueMetrics(); err != nil {
		q.log.Warn("failed to initialize speech metrics", slogError(err))
	} else {
		q.metrics = m
	}
	go q.consume()
	return q
}

// Enqueue hands an utterance to the queue and returns immediately. Producers
// never await playback. A full or closed queue fails the utterance rather
// than blocking.
func (q *Queue) Enqueue(u *Utterance) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		q.setStatus(u, StatusFailed)
		return
	}
	q.setStatus(u, StatusQueued)
	select {
	case q.items <- u:
	default:
		q.log.Warn("speech queue full, dropping utterance", slog.String("text", u.Text))
		q.setStatus(u, StatusFailed)
	}
}

// Close stops the queue. The utterance currently playing finishes; queued
// but unstarted utterances are discarded. Blocks until the consumer exits.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
	})
	<-q.done
}

func (q *Queue) consume() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			q.drain()
			return
		default:
		}
		select {
		case <-q.stop:
			q.drain()
			return
		case u := <-q.items:
			q.process(u)
		}
	}
}

// drain discards everything still queued at shutdown.
func (q *Queue) drain() {
	for {
		select {
		case u := <-q.items:
			q.setStatus(u, StatusFailed)
		default:
			return
		}
	}
}

func (q *Queue) process(u *Utterance) {
	ctx, cancel := q.processCtx()
	defer cancel()

	q.setStatus(u, StatusSynthesizing)
	pcm, sampleRate, channels, err := q.synthesize(ctx, u)
	if err != nil {
		// A failed utterance is dropped; the loop moves on to the next.
		q.log.Warn("synthesis failed, dropping utterance",
			slog.String("utterance_id", u.ID), slogError(err))
		q.setStatus(u, StatusFailed)
		q.metrics.recordFailed(ctx)
		return
	}

	q.setStatus(u, StatusPlaying)
	if err := q.player.Play(ctx, u, pcm, sampleRate, channels); err != nil {
		q.log.Warn("playback interrupted",
			slog.String("utterance_id", u.ID), slogError(err))
		q.setStatus(u, StatusFailed)
		q.metrics.recordFailed(ctx)
		return
	}
	q.setStatus(u, StatusDone)
	q.metrics.recordPlayed(ctx)
}

func (q *Queue) processCtx() (context.Context, context.CancelFunc) {
	timeout := time.Duration(q.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	// Detached from Close so an in-flight utterance finishes playing.
	return context.WithTimeout(context.Background(), timeout)
}

func (q *Queue) synthesize(ctx context.Context, u *Utterance) ([]byte, int, int, error) {
	voice := u.VoiceID
	if voice == "" {
		voice = q.cfg.Voice
	}
	chunks, errs := q.synth.Synthesize(ctx, SynthRequest{UtteranceID: u.ID, Text: u.Text, Voice: voice})

	var pcm []byte
	sampleRate := q.cfg.SampleRate
	channels := q.cfg.Channels
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.SampleRate > 0 {
				sampleRate = chunk.SampleRate
			}
			if chunk.Channels > 0 {
				channels = chunk.Channels
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if ok && err != nil {
				return nil, 0, 0, err
			}
			errs = nil
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		}
		if chunks == nil && errs == nil {
			return pcm, sampleRate, channels, nil
		}
	}
}

func (q *Queue) setStatus(u *Utterance, s Status) {
	u.setStatus(s)
	if q.onStatus != nil {
		q.onStatus(u, s)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
