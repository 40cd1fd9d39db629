package transcribe

import (
	"context"
	"fmt"
)

// Result captures transcriber output.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts speech-to-text backends. The exec variant runs a
// local recognizer with no network dependency; the remote variant uploads a
// buffered clip to a transcription service.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (Result, error)
}

// Error marks a transcription failure. The session stays listening when one
// occurs; the caller decides whether to re-prompt the user.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe (%s): %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
