package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medport-labs/medvoice-core/internal/config"
)

type httpSynth struct {
	endpoint   string
	apiKey     string
	sampleRate int
	channels   int
	client     *http.Client
}

type httpSynthRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// NewHTTPSynth builds the remote synthesis variant: POST {text, voiceId},
// binary audio back. Without an API key every request reports
// ErrMissingAPIKey instead of calling out.
func NewHTTPSynth(cfg config.SpeechConfig) (Synthesizer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("speech endpoint is empty")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &httpSynth{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (h *httpSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if h.apiKey == "" {
			errs <- ErrMissingAPIKey
			return
		}

		body, err := json.Marshal(httpSynthRequest{Text: req.Text, VoiceID: req.Voice})
		if err != nil {
			errs <- err
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)

		resp, err := h.client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			errs <- fmt.Errorf("synthesis service returned status %s", resp.Status)
			return
		}

		pcm, err := io.ReadAll(resp.Body)
		if err != nil {
			errs <- err
			return
		}
		select {
		case chunks <- SynthChunk{
			UtteranceID: req.UtteranceID,
			Sequence:    0,
			SampleRate:  h.sampleRate,
			Channels:    h.channels,
			PCM:         pcm,
			Final:       true,
		}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}
