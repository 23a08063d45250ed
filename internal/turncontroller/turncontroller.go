// Package turncontroller implements the per-session audio turn loop:
// IDLE → GREETING → LISTENING → PROCESSING → SPEAKING →
// {LISTENING | TERMINAL}. It is coroutine-free by design — a caller
// feeds it audio chunks and wall-clock time, and it returns an Event
// describing what happened; no internal goroutines or timers, explicit
// named states rather than the nested await chains a streaming SDK
// would use.
//
// The state mutex is held only for bookkeeping, never across a
// Recognizer/Understander/Synthesizer/Orchestrator call: IngestChunk
// commits PROCESSING and releases the lock before doing any blocking
// work, so a chunk arriving mid-turn from another goroutine (the usual
// shape of a websocket read loop racing a slow backend call) observes
// PROCESSING/SPEAKING and is dropped rather than queued behind it.
package turncontroller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/domain"
	"github.com/antoniostano/voiceassist/internal/observability"
	"github.com/antoniostano/voiceassist/internal/orchestrator"
	"github.com/antoniostano/voiceassist/internal/prompts"
	"github.com/antoniostano/voiceassist/internal/vad"
)

// State is one of the turn controller's six explicit states.
type State string

const (
	StateIdle       State = "IDLE"
	StateGreeting   State = "GREETING"
	StateListening  State = "LISTENING"
	StateProcessing State = "PROCESSING"
	StateSpeaking   State = "SPEAKING"
	StateTerminal   State = "TERMINAL"
)

// ErrTerminal is returned by IngestChunk once the session has ended.
var ErrTerminal = errors.New("turncontroller: session is terminal")

// Event is what a state transition produces: text to speak (already
// synthesized to audio when a Synthesizer is wired), whether the chunk
// that triggered it was dropped for backpressure, and the state the
// controller landed in.
type Event struct {
	State           State
	ReplyText       string
	ReplyAudio      []byte
	ProactivePrompt bool
	ShouldEnd       bool
	NeedsEscalation bool
	Dropped         bool
}

// Config bundles the turn controller's timing knobs, mirroring
// config.Config's SilenceWindow/EndOfUtteranceWindow/*Timeout fields.
type Config struct {
	SampleRate           int
	SilenceWindow        time.Duration
	EndOfUtteranceWindow time.Duration
	RecognizeTimeout     time.Duration
	SynthesizeTimeout    time.Duration
	VAD                  vad.Config
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = 1500 * time.Millisecond
	}
	if c.EndOfUtteranceWindow <= 0 {
		c.EndOfUtteranceWindow = 1500 * time.Millisecond
	}
	if c.RecognizeTimeout <= 0 {
		c.RecognizeTimeout = 10 * time.Second
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = 10 * time.Second
	}
	if c.VAD == (vad.Config{}) {
		c.VAD = vad.DefaultConfig()
	}
}

// Controller drives a single session's audio turn loop. One instance
// per conversation id. Concurrent IngestChunk calls are safe (the
// point of the design is that a concurrent chunk during PROCESSING or
// SPEAKING is observed and dropped, not serialized behind the turn).
type Controller struct {
	ConversationID string
	Language       domain.Language

	Orchestrator *orchestrator.Orchestrator
	Recognizer   adapters.Recognizer
	Synthesizer  adapters.Synthesizer

	// Metrics is optional; nil-safe observability.Metrics methods make a
	// nil Controller.Metrics a silent no-op rather than a nil check here.
	Metrics *observability.Metrics

	cfg Config

	mu              sync.Mutex
	state           State
	buffer          []byte
	hasSpeechPrefix bool
	lastSpeechAt    time.Time
	silenceStart    time.Time
	droppedChunks   int
}

// New builds a Controller in state IDLE.
func New(conversationID string, lang domain.Language, o *orchestrator.Orchestrator, rec adapters.Recognizer, synth adapters.Synthesizer, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		ConversationID: conversationID,
		Language:       lang,
		Orchestrator:   o,
		Recognizer:     rec,
		Synthesizer:    synth,
		cfg:            cfg,
		state:          StateIdle,
	}
}

// State reports the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DroppedChunks reports how many ingress chunks were dropped for
// backpressure: incoming audio that arrived while PROCESSING or
// SPEAKING, or before Start reached LISTENING (IDLE, GREETING),
// mirrored in the dropped_chunks observability counter.
func (c *Controller) DroppedChunks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedChunks
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start runs IDLE → GREETING → LISTENING: synthesizes a localized
// greeting and opens the session for chunks.
func (c *Controller) Start(ctx context.Context) (*Event, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return &Event{State: st}, nil
	}
	c.state = StateGreeting
	c.mu.Unlock()

	greeting := prompts.Select(c.Language, prompts.BucketGreeting, c.ConversationID, 0)
	audio, err := c.synthesize(ctx, greeting)
	if err != nil {
		return c.recoverFromAdapterError(ctx, err)
	}

	c.mu.Lock()
	c.state = StateListening
	c.resetBufferLocked()
	c.mu.Unlock()
	return &Event{State: StateListening, ReplyText: greeting, ReplyAudio: audio}, nil
}

// IngestChunk feeds one raw PCM16LE audio chunk and the wall-clock time
// it arrived at. now is passed in rather than read from time.Now() so
// silence/end-of-utterance timing is deterministic under test.
func (c *Controller) IngestChunk(ctx context.Context, chunk []byte, now time.Time) (*Event, error) {
	c.mu.Lock()

	switch c.state {
	case StateTerminal:
		c.mu.Unlock()
		return nil, ErrTerminal
	case StateProcessing, StateSpeaking, StateIdle, StateGreeting:
		// Backpressure: no new LISTENING chunk is consumed while busy,
		// or before the session has started.
		c.droppedChunks++
		st := c.state
		c.mu.Unlock()
		c.Metrics.ObserveDroppedChunk()
		return &Event{State: st, Dropped: true}, nil
	}

	// The utterance buffer accumulates every chunk (it is what gets
	// handed to Recognizer.Transcribe at end-of-utterance), but VAD
	// classifies only the chunk that just arrived: running it over the
	// whole growing buffer would let an utterance's own speech history
	// mask a trailing silence run, and the silence/EOU timers below
	// already track duration across chunks themselves.
	c.buffer = append(c.buffer, chunk...)
	result := vad.Classify(vad.DecodePCM16LE(chunk), c.cfg.SampleRate, c.cfg.VAD)
	if result.HasSpeech {
		c.Metrics.ObserveVADDecision("speech")
	} else {
		c.Metrics.ObserveVADDecision("silence")
	}

	if result.HasSpeech {
		c.hasSpeechPrefix = true
		c.lastSpeechAt = now
		c.silenceStart = time.Time{}
		c.mu.Unlock()
		return &Event{State: StateListening}, nil
	}

	if !c.hasSpeechPrefix {
		if c.silenceStart.IsZero() {
			c.silenceStart = now
		}
		if now.Sub(c.silenceStart) < c.cfg.SilenceWindow {
			c.mu.Unlock()
			return &Event{State: StateListening}, nil
		}
		c.state = StateProcessing
		c.resetBufferLocked()
		c.mu.Unlock()
		return c.timedTurn(func() (*Event, error) { return c.onSilenceTimeout(ctx) })
	}

	if now.Sub(c.lastSpeechAt) < c.cfg.EndOfUtteranceWindow {
		c.mu.Unlock()
		return &Event{State: StateListening}, nil
	}
	utterance := c.buffer
	c.state = StateProcessing
	c.resetBufferLocked()
	c.mu.Unlock()
	return c.timedTurn(func() (*Event, error) { return c.onEndOfUtterance(ctx, utterance) })
}

// timedTurn wraps one PROCESSING->SPEAKING turn with the turn_total and
// first-audio-latency observability instruments: the clock starts the
// instant a chunk commits to PROCESSING and stops once the turn has
// either produced audio to speak or given up.
func (c *Controller) timedTurn(fn func() (*Event, error)) (*Event, error) {
	start := time.Now()
	ev, err := fn()
	c.Metrics.ObserveTurnStage("turn_total", time.Since(start))
	if err == nil && ev != nil && len(ev.ReplyAudio) > 0 {
		c.Metrics.ObserveFirstAudioLatency(time.Since(start))
	}
	return ev, err
}

// onSilenceTimeout handles SILENCE_WINDOW elapsing with no speech ever
// seen: PROCESSING → handle_no_speech → SPEAKING → {LISTENING|TERMINAL}.
// Called with the controller already committed to PROCESSING and no
// lock held.
func (c *Controller) onSilenceTimeout(ctx context.Context) (*Event, error) {
	tr, err := c.Orchestrator.HandleNoSpeech(ctx, c.ConversationID, c.Language)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionTerminal) {
			c.setState(StateTerminal)
			return &Event{State: StateTerminal}, nil
		}
		return c.recoverFromAdapterError(ctx, err)
	}

	c.setState(StateSpeaking)
	audio, err := c.synthesize(ctx, tr.ReplyText)
	if err != nil {
		return c.recoverFromAdapterError(ctx, err)
	}

	final := StateListening
	if tr.ShouldEnd || tr.NeedsEscalation {
		final = StateTerminal
	}
	c.setState(final)
	return &Event{
		State:           final,
		ReplyText:       tr.ReplyText,
		ReplyAudio:      audio,
		ProactivePrompt: tr.ProactivePrompt,
		ShouldEnd:       tr.ShouldEnd,
		NeedsEscalation: tr.NeedsEscalation,
	}, nil
}

// onEndOfUtterance handles a speech-bearing prefix followed by
// END_OF_UTTERANCE_SILENCE: PROCESSING → recognize → handle_text →
// SPEAKING → {LISTENING|TERMINAL}. The buffer was already cleared by
// the caller; utterance is the snapshot taken before clearing.
func (c *Controller) onEndOfUtterance(ctx context.Context, utterance []byte) (*Event, error) {
	recCtx, cancel := context.WithTimeout(ctx, c.cfg.RecognizeTimeout)
	recStart := time.Now()
	text, err := c.Recognizer.Transcribe(recCtx, utterance, c.Language)
	cancel()
	c.Metrics.ObserveTurnStage("recognize", time.Since(recStart))
	if err != nil {
		return c.recoverFromAdapterError(ctx, err)
	}
	if text == "" {
		// An empty transcript is treated exactly as a silence timeout.
		return c.onSilenceTimeout(ctx)
	}

	tr, err := c.Orchestrator.HandleText(ctx, c.ConversationID, text, c.Language)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionTerminal) {
			c.setState(StateTerminal)
			return &Event{State: StateTerminal}, nil
		}
		// An orchestrator.Error of KindInternal surfaces with the
		// session already marked ESCALATED; speak its reply and end.
		var orchErr *orchestrator.Error
		if errors.As(err, &orchErr) && tr != nil {
			return c.finishSpeaking(ctx, tr)
		}
		return c.recoverFromAdapterError(ctx, err)
	}

	return c.finishSpeaking(ctx, tr)
}

func (c *Controller) finishSpeaking(ctx context.Context, tr *domain.TurnResult) (*Event, error) {
	c.setState(StateSpeaking)
	audio, err := c.synthesize(ctx, tr.ReplyText)
	if err != nil {
		return c.recoverFromAdapterError(ctx, err)
	}
	final := StateListening
	if tr.ShouldEnd || tr.NeedsEscalation {
		final = StateTerminal
	}
	c.setState(final)
	return &Event{
		State:           final,
		ReplyText:       tr.ReplyText,
		ReplyAudio:      audio,
		ShouldEnd:       tr.ShouldEnd,
		NeedsEscalation: tr.NeedsEscalation,
	}, nil
}

// recoverFromAdapterError implements the state-machine invariant "on
// any adapter error, emit a localized apology and return to LISTENING
// without changing dialogue state beyond history and retry_count": it
// routes the failure through the orchestrator (which owns that state)
// and speaks whatever apology comes back.
func (c *Controller) recoverFromAdapterError(ctx context.Context, cause error) (*Event, error) {
	tr, err := c.Orchestrator.HandleAdapterFailure(ctx, c.ConversationID, cause)
	if err != nil {
		c.setState(StateTerminal)
		if errors.Is(err, orchestrator.ErrSessionTerminal) {
			return &Event{State: StateTerminal}, nil
		}
		return &Event{State: StateTerminal}, err
	}
	audio, synthErr := c.synthesize(ctx, tr.ReplyText)
	c.setState(StateListening)
	if synthErr != nil {
		// Synthesis itself failing on the apology path: speak nothing,
		// stay in LISTENING rather than recursing.
		return &Event{State: StateListening, ReplyText: tr.ReplyText}, nil
	}
	return &Event{State: StateListening, ReplyText: tr.ReplyText, ReplyAudio: audio}, nil
}

func (c *Controller) synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.Synthesizer == nil {
		return nil, nil
	}
	synCtx, cancel := context.WithTimeout(ctx, c.cfg.SynthesizeTimeout)
	defer cancel()
	start := time.Now()
	audio, err := c.Synthesizer.Synthesize(synCtx, text, c.Language)
	c.Metrics.ObserveTurnStage("synthesize", time.Since(start))
	return audio, err
}

func (c *Controller) resetBufferLocked() {
	c.buffer = nil
	c.hasSpeechPrefix = false
	c.silenceStart = time.Time{}
}
