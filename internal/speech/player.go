package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/medport-labs/medvoice-core/internal/bus"
	"github.com/medport-labs/medvoice-core/internal/protocol"
)

// Player renders synthesized PCM on the audio output channel. The queue's
// consumer loop is the only caller, which is what keeps playback serialized.
type Player interface {
	Play(ctx context.Context, u *Utterance, pcm []byte, sampleRate, channels int) error
}

// MockPlayer simulates playback with a fixed delay.
type MockPlayer struct {
	Delay time.Duration
}

func (p *MockPlayer) Play(ctx context.Context, _ *Utterance, _ []byte, _, _ int) error {
	if p.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay):
		return nil
	}
}

// ExecPlayer pipes raw PCM to an external playback command.
type ExecPlayer struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecPlayer(command string) (*ExecPlayer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &ExecPlayer{cmd: args}, nil
}

func (p *ExecPlayer) Play(ctx context.Context, _ *Utterance, pcm []byte, sampleRate, channels int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.cmd[0]
	args := append([]string{}, p.cmd[1:]...)
	args = append(args, "--rate", fmt.Sprintf("%d", sampleRate), "--channels", fmt.Sprintf("%d", channels))
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write(pcm); err != nil {
		cmd.Wait()
		return err
	}
	stdin.Close()
	return cmd.Wait()
}

// chunkDuration is the slice size for speech chunks published to the bus.
const chunkDuration = 400 * time.Millisecond

// BusPlayer publishes speech chunks for a playback target on the bus and
// signals completion on the done subject.
type BusPlayer struct {
	bus    *bus.Client
	target string
}

func NewBusPlayer(busClient *bus.Client, target string) *BusPlayer {
	return &BusPlayer{bus: busClient, target: target}
}

func (p *BusPlayer) Play(ctx context.Context, u *Utterance, pcm []byte, sampleRate, channels int) error {
	if p.bus == nil {
		return fmt.Errorf("bus unavailable")
	}
	chunkBytes := sampleRate * channels * 2 * int(chunkDuration.Milliseconds()) / 1000
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}

	sequence := 0
	for offset := 0; offset < len(pcm) || sequence == 0; offset += chunkBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := offset + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := protocol.SpeechChunk{
			UtteranceID: u.ID,
			Target:      p.target,
			SampleRate:  sampleRate,
			Channels:    channels,
			Sequence:    sequence,
			PCM:         pcm[offset:end],
			Final:       end >= len(pcm),
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if err := p.bus.Conn().Publish(protocol.SubjectSpeechAudio, data); err != nil {
			return err
		}
		sequence++
	}

	status := protocol.SpeechStatus{
		UtteranceID: u.ID,
		Target:      p.target,
		Completed:   true,
		Timestamp:   time.Now().UTC(),
	}
	if data, err := json.Marshal(status); err == nil {
		_ = p.bus.Conn().Publish(protocol.SubjectSpeechDone, data)
	}
	return nil
}
