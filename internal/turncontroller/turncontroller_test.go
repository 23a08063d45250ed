package turncontroller

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/domain"
	"github.com/antoniostano/voiceassist/internal/orchestrator"
	"github.com/antoniostano/voiceassist/internal/session"
)

func encodePCM16LE(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func toneChunk(freqHz float64, sampleRate int, seconds float64, amplitude float64) []byte {
	n := int(float64(sampleRate) * seconds)
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = amplitude * math.Sin(2*math.Pi*freqHz*t)
	}
	return encodePCM16LE(samples)
}

func silenceChunk(sampleRate int, seconds float64) []byte {
	return encodePCM16LE(make([]float64, int(float64(sampleRate)*seconds)))
}

func newTestController(rec adapters.Recognizer) *Controller {
	store := session.NewInMemoryStore(time.Minute)
	o := orchestrator.New(store, adapters.NewStubUnderstander(), adapters.NewStubDataClient(), adapters.NewStubHandoff(), orchestrator.Config{}, orchestrator.Hooks{})
	return New("conv-tc", domain.LanguageEN, o, rec, adapters.NewStubSynthesizer(), Config{
		SampleRate:           16000,
		SilenceWindow:        300 * time.Millisecond,
		EndOfUtteranceWindow: 300 * time.Millisecond,
	})
}

// countingRecognizer counts Transcribe calls and returns text, so tests
// can assert the "never recognize on silence" invariant (zero calls) or
// an exact call count after end-of-utterance.
type countingRecognizer struct {
	calls int32
	text  string
}

func (r *countingRecognizer) Transcribe(_ context.Context, _ []byte, _ domain.Language) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.text, nil
}

func TestStartEmitsGreetingAndEntersListening(t *testing.T) {
	c := newTestController(&countingRecognizer{})
	ev, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if ev.State != StateListening {
		t.Fatalf("State = %v, want LISTENING", ev.State)
	}
	if ev.ReplyText == "" {
		t.Fatalf("expected a non-empty greeting")
	}
}

func TestSilenceNeverTriggersRecognize(t *testing.T) {
	rec := &countingRecognizer{}
	c := newTestController(rec)
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	chunk := silenceChunk(16000, 0.1)
	for i := 0; i < 5; i++ {
		now = now.Add(100 * time.Millisecond)
		if _, err := c.IngestChunk(ctx, chunk, now); err != nil {
			t.Fatalf("IngestChunk error = %v", err)
		}
	}
	if atomic.LoadInt32(&rec.calls) != 0 {
		t.Fatalf("Recognizer.Transcribe called %d times on pure silence, want 0", rec.calls)
	}
}

func TestSilenceTimeoutProducesProactivePromptAndReturnsToListening(t *testing.T) {
	rec := &countingRecognizer{}
	c := newTestController(rec)
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	chunk := silenceChunk(16000, 0.1)
	now = now.Add(100 * time.Millisecond)
	ev, err := c.IngestChunk(ctx, chunk, now)
	if err != nil {
		t.Fatalf("IngestChunk error = %v", err)
	}
	if ev.State != StateListening {
		t.Fatalf("State after sub-window silence = %v, want LISTENING", ev.State)
	}

	now = now.Add(400 * time.Millisecond) // exceeds 300ms SilenceWindow
	ev, err = c.IngestChunk(ctx, chunk, now)
	if err != nil {
		t.Fatalf("IngestChunk error = %v", err)
	}
	if !ev.ProactivePrompt {
		t.Fatalf("expected a proactive prompt after the silence window elapses, got %+v", ev)
	}
	if ev.State != StateListening {
		t.Fatalf("State after proactive prompt = %v, want LISTENING", ev.State)
	}
	if atomic.LoadInt32(&rec.calls) != 0 {
		t.Fatalf("Recognizer.Transcribe called on a silence-only turn, want 0 calls")
	}
}

func TestEndOfUtteranceRecognizesAndDispatchesIntent(t *testing.T) {
	rec := &countingRecognizer{text: "pricing please"}
	c := newTestController(rec)
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	speech := toneChunk(200, 16000, 0.5, 0.5)
	now = now.Add(500 * time.Millisecond)
	if _, err := c.IngestChunk(ctx, speech, now); err != nil {
		t.Fatalf("speech chunk error = %v", err)
	}

	silence := silenceChunk(16000, 0.1)
	now = now.Add(400 * time.Millisecond) // exceeds EndOfUtteranceWindow
	ev, err := c.IngestChunk(ctx, silence, now)
	if err != nil {
		t.Fatalf("silence-after-speech error = %v", err)
	}
	if atomic.LoadInt32(&rec.calls) != 1 {
		t.Fatalf("Recognizer.Transcribe called %d times, want exactly 1", rec.calls)
	}
	if !ev.ShouldEnd {
		t.Fatalf("expected the pricing intent to end the turn, got %+v", ev)
	}
	if ev.State != StateTerminal {
		t.Fatalf("State = %v, want TERMINAL after should_end", ev.State)
	}
}

func TestBackpressureDropsChunksDuringProcessing(t *testing.T) {
	blocking := newBlockingRecognizer("pricing please")
	c := newTestController(blocking)
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	speech := toneChunk(200, 16000, 0.5, 0.5)
	now = now.Add(500 * time.Millisecond)
	if _, err := c.IngestChunk(ctx, speech, now); err != nil {
		t.Fatalf("speech chunk error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	eouTime := now.Add(400 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, _ = c.IngestChunk(ctx, silenceChunk(16000, 0.1), eouTime)
	}()

	// Give the goroutine time to enter PROCESSING and block inside
	// Transcribe before we try to ingest another chunk concurrently.
	<-blocking.entered
	ev, err := c.IngestChunk(ctx, silenceChunk(16000, 0.05), eouTime.Add(10*time.Millisecond))
	if err != nil {
		t.Fatalf("concurrent IngestChunk error = %v", err)
	}
	if !ev.Dropped {
		t.Fatalf("expected the chunk arriving during PROCESSING to be dropped, got %+v", ev)
	}
	close(blocking.release)
	wg.Wait()

	if c.DroppedChunks() != 1 {
		t.Fatalf("DroppedChunks() = %d, want 1", c.DroppedChunks())
	}
}

// blockingRecognizer blocks inside Transcribe until release is closed,
// signaling entered first so the test can deterministically land a
// concurrent IngestChunk call while PROCESSING.
type blockingRecognizer struct {
	text    string
	release chan struct{}
	entered chan struct{}
}

func newBlockingRecognizer(text string) *blockingRecognizer {
	return &blockingRecognizer{
		text:    text,
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
}

func (r *blockingRecognizer) Transcribe(ctx context.Context, _ []byte, _ domain.Language) (string, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.text, nil
}

func TestNoResponseEscalationTerminatesSession(t *testing.T) {
	rec := &countingRecognizer{}
	c := newTestController(rec)
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	chunk := silenceChunk(16000, 0.1)
	// Four consecutive silence windows: three proactive prompts, then
	// terminal escalation (default MaxNoResponse=3). Each window needs
	// one chunk to (re)start the silence timer and a second, after
	// SilenceWindow elapses, to trip it.
	var last *Event
	for i := 0; i < 4; i++ {
		now = now.Add(50 * time.Millisecond)
		if _, err := c.IngestChunk(ctx, chunk, now); err != nil {
			t.Fatalf("round %d: arm IngestChunk error = %v", i, err)
		}
		now = now.Add(400 * time.Millisecond)
		ev, err := c.IngestChunk(ctx, chunk, now)
		if err != nil {
			t.Fatalf("round %d: IngestChunk error = %v", i, err)
		}
		last = ev
	}
	if !last.NeedsEscalation || last.State != StateTerminal {
		t.Fatalf("expected terminal escalation on the 4th silence window, got %+v", last)
	}

	_, err := c.IngestChunk(ctx, chunk, now.Add(time.Second))
	if err != ErrTerminal {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
}
