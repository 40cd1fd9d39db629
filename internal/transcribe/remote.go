package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/medport-labs/medvoice-core/internal/config"
)

type remoteTranscriber struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

type remoteResponse struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// NewRemoteTranscriber builds the upload variant: the buffered clip is sent
// to the transcription endpoint as a WAV payload. The call is bounded by the
// configured client-side timeout and fails instead of hanging; retries are
// left to the caller.
func NewRemoteTranscriber(cfg config.TranscriberConfig) (Transcriber, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote transcriber endpoint is empty")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &remoteTranscriber{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (r *remoteTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, _ bool) (Result, error) {
	payload, err := r.encodeClip(pcm, sampleRate, channels)
	if err != nil {
		return Result{}, &Error{Backend: "remote", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &Error{Backend: "remote", Err: err}
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, &Error{Backend: "remote", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, &Error{Backend: "remote", Err: fmt.Errorf("transcription service returned status %s", resp.Status)}
	}

	var body remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, &Error{Backend: "remote", Err: fmt.Errorf("decode transcription response: %w", err)}
	}
	return Result{Text: body.Transcript, Confidence: body.Confidence}, nil
}

func (r *remoteTranscriber) encodeClip(pcm []byte, sampleRate int, channels int) ([]byte, error) {
	file, err := os.CreateTemp(os.TempDir(), "medvoice_clip_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := encodePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	return io.ReadAll(file)
}
