package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execSynth shells out to a local synthesis command, one process per
// utterance. The request goes to stdin as JSON; the command answers with one
// JSON line per audio chunk until stdout closes. The queue's consumer loop is
// the only caller, so runs are already serialized.
type execSynth struct {
	argv       []string
	sampleRate int
	channels   int
}

type execSynthRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// execSynthChunk is one stdout line. Chunks may override the requested
// format, for voices rendered at a different rate.
type execSynthChunk struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Final      bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execSynth{argv: argv, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	payload, err := json.Marshal(execSynthRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	streamErr := e.stream(ctx, req.UtteranceID, stdout, out)
	waitErr := cmd.Wait()
	if streamErr != nil {
		return streamErr
	}
	return waitErr
}

func (e *execSynth) stream(ctx context.Context, utteranceID string, stdout io.Reader, out chan<- SynthChunk) error {
	scanner := bufio.NewScanner(stdout)
	sequence := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk execSynthChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode synth chunk: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(chunk.PCMBase64)
		if err != nil {
			return fmt.Errorf("decode synth audio: %w", err)
		}
		sampleRate := e.sampleRate
		if chunk.SampleRate > 0 {
			sampleRate = chunk.SampleRate
		}
		channels := e.channels
		if chunk.Channels > 0 {
			channels = chunk.Channels
		}
		select {
		case out <- SynthChunk{
			UtteranceID: utteranceID,
			Sequence:    sequence,
			SampleRate:  sampleRate,
			Channels:    channels,
			PCM:         pcm,
			Final:       chunk.Final,
		}:
		case <-ctx.Done():
			// The consumer gave up on this utterance; stop feeding it.
			return ctx.Err()
		}
		sequence++
	}
	return scanner.Err()
}
