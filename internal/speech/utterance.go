package speech

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status tracks an utterance through the feedback queue.
type Status int

const (
	StatusQueued Status = iota
	StatusSynthesizing
	StatusPlaying
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSynthesizing:
		return "synthesizing"
	case StatusPlaying:
		return "playing"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Utterance is one discrete unit of spoken feedback. It is owned exclusively
// by the queue from enqueue until it reaches done or failed, then discarded.
type Utterance struct {
	ID      string
	Text    string
	VoiceID string
	status  atomic.Int32
}

func NewUtterance(text, voiceID string) *Utterance {
	return &Utterance{
		ID:      uuid.NewString(),
		Text:    text,
		VoiceID: voiceID,
	}
}

// Status reports the utterance's position in the queue's state machine.
func (u *Utterance) Status() Status { return Status(u.status.Load()) }

func (u *Utterance) setStatus(s Status) { u.status.Store(int32(s)) }
