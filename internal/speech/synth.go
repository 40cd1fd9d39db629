package speech

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is the declared-missing signal from the remote
// synthesizer: without a key it reports this instead of audio, and the queue
// treats it as a synthesis failure rather than a crash.
var ErrMissingAPIKey = errors.New("speech synthesis api key not configured")

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	UtteranceID string
	Text        string
	Voice       string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	UtteranceID string
	Sequence    int
	SampleRate  int
	Channels    int
	PCM         []byte
	Final       bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
