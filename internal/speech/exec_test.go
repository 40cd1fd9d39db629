package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSynthScript writes a shell script that drains stdin and emits the
// given number of interim chunk lines followed by one final chunk.
func writeSynthScript(t *testing.T, interims int) string {
	t.Helper()
	script := fmt.Sprintf(`cat > /dev/null
i=0
while [ "$i" -lt %d ]; do
  echo '{"pcm_base64":"AAAA","final":false}'
  i=$((i+1))
done
echo '{"pcm_base64":"AAAA","final":true}'
`, interims)
	path := filepath.Join(t.TempDir(), "synth.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func drainSynth(ctx context.Context, synth Synthesizer, req SynthRequest) ([]SynthChunk, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var collected []SynthChunk
	for chunk := range chunks {
		collected = append(collected, chunk)
	}
	var err error
	for e := range errs {
		if e != nil {
			err = e
		}
	}
	return collected, err
}

func TestExecSynthStreamsChunks(t *testing.T) {
	script := writeSynthScript(t, 3)
	synth, err := NewExecSynth("sh "+script, 22050, 1)
	if err != nil {
		t.Fatalf("NewExecSynth: %v", err)
	}

	chunks, err := drainSynth(context.Background(), synth, SynthRequest{UtteranceID: "u1", Text: "hello"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Sequence != i {
			t.Fatalf("chunk %d has sequence %d", i, chunk.Sequence)
		}
		if chunk.UtteranceID != "u1" {
			t.Fatalf("chunk %d carries utterance %q", i, chunk.UtteranceID)
		}
		if len(chunk.PCM) != 3 {
			t.Fatalf("chunk %d pcm not decoded, %d bytes", i, len(chunk.PCM))
		}
	}
	if chunks[3].Final != true || chunks[0].Final {
		t.Fatal("final flag misplaced")
	}
}

func TestExecSynthSurvivesAbandonedStream(t *testing.T) {
	script := writeSynthScript(t, 50)
	synth, err := NewExecSynth("sh "+script, 22050, 1)
	if err != nil {
		t.Fatalf("NewExecSynth: %v", err)
	}

	// Take one chunk, then walk away from the channels the way the queue
	// does when an utterance times out.
	ctx, cancel := context.WithCancel(context.Background())
	chunks, _ := synth.Synthesize(ctx, SynthRequest{UtteranceID: "u1", Text: "hello"})
	select {
	case <-chunks:
	case <-time.After(2 * time.Second):
		t.Fatal("no first chunk")
	}
	cancel()

	// The next utterance must still synthesize to completion.
	done := make(chan error, 1)
	go func() {
		collected, err := drainSynth(context.Background(), synth, SynthRequest{UtteranceID: "u2", Text: "world"})
		if err == nil && len(collected) == 0 {
			err = fmt.Errorf("no chunks produced")
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second synthesis failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("synthesizer wedged after a consumer abandoned the stream")
	}
}

func TestExecSynthRejectsMalformedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synth.sh")
	script := "cat > /dev/null\necho 'not json'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	synth, err := NewExecSynth("sh "+path, 22050, 1)
	if err != nil {
		t.Fatalf("NewExecSynth: %v", err)
	}

	if _, err := drainSynth(context.Background(), synth, SynthRequest{UtteranceID: "u1", Text: "x"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExecSynthCommandValidation(t *testing.T) {
	if _, err := NewExecSynth("", 22050, 1); err == nil {
		t.Fatal("empty command must be rejected")
	}
	if _, err := NewExecSynth("'unbalanced", 22050, 1); err == nil {
		t.Fatal("unparseable command must be rejected")
	}
}
