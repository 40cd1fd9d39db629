package protocol

import "time"

// AudioFrame represents PCM audio data streamed from portal clients.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents transcription output for one capture session.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// SpeechChunk carries synthesized audio back to a playback target.
type SpeechChunk struct {
	UtteranceID string `json:"utterance_id"`
	Target      string `json:"target"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Sequence    int    `json:"sequence"`
	PCM         []byte `json:"pcm"`
	Final       bool   `json:"final"`
}

// SpeechStatus signals playback completion for an utterance.
type SpeechStatus struct {
	UtteranceID string    `json:"utterance_id"`
	Target      string    `json:"target"`
	Completed   bool      `json:"completed"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "voice.transcript.partial"
	SubjectTranscriptFinal   = "voice.transcript.final"
	SubjectSpeechAudio       = "voice.speech.audio"
	SubjectSpeechDone        = "voice.speech.done"
	SubjectNavigate          = "voice.navigate"
)
