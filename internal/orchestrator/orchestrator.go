// Package orchestrator implements the multi-turn dialogue state machine:
// slot filling, confidence gating, retry budgets, and escalation, on top
// of the narrow adapters.* contracts and a SessionStore for per-id
// exclusion. It knows nothing about audio or transport — HandleText and
// HandleNoSpeech drive dialogue turns; HandleAdapterFailure and
// SyncDroppedChunks let a turn controller or HTTP handler report
// failures and backpressure drops from outside the text pipeline.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/domain"
	"github.com/antoniostano/voiceassist/internal/observability"
	"github.com/antoniostano/voiceassist/internal/policy"
	"github.com/antoniostano/voiceassist/internal/prompts"
)

// defaultAgentTriggers is a language-agnostic phrase set: any of these
// substrings in the raw utterance forces immediate escalation
// regardless of NLU confidence.
var defaultAgentTriggers = []string{"agent", "executive", "human", "एजेंट"}

// Config bundles the tunables HandleText/HandleNoSpeech need. It mirrors
// the relevant fields of config.Config rather than importing that
// package directly, keeping orchestrator free of the config/env layer.
type Config struct {
	ConfidenceThreshold float64
	MaxRetry            int
	MaxNoResponse       int
	UnderstandTimeout   time.Duration
	DataTimeout         time.Duration
	HandoffTimeout      time.Duration
	AgentTriggers       []string
}

// Orchestrator is the dialogue brain: one instance is shared across all
// conversations, with per-conversation exclusivity delegated to Store.
type Orchestrator struct {
	Store        adapters.SessionStore
	Understander adapters.Understander
	DataClient   adapters.DataClient
	HandoffSvc   adapters.Handoff

	// Metrics is optional; nil-safe observability.Metrics methods make a
	// nil Orchestrator.Metrics a silent no-op.
	Metrics *observability.Metrics

	cfg Config

	onTurn     func(kind string)
	onEscalate func(reason string)
}

// Hooks lets callers subscribe to turn-level and escalation events via
// plain closures, independently of the Metrics field above.
type Hooks struct {
	OnTurn     func(kind string)
	OnEscalate func(reason string)
}

// New builds an Orchestrator. Zero-value Config fields fall back to the
// spec defaults so a caller can pass a partially populated Config in
// tests.
func New(store adapters.SessionStore, understander adapters.Understander, dataClient adapters.DataClient, handoff adapters.Handoff, cfg Config, hooks Hooks) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 2
	}
	if cfg.MaxNoResponse <= 0 {
		cfg.MaxNoResponse = 3
	}
	if cfg.UnderstandTimeout <= 0 {
		cfg.UnderstandTimeout = 5 * time.Second
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = 5 * time.Second
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 5 * time.Second
	}
	if len(cfg.AgentTriggers) == 0 {
		cfg.AgentTriggers = defaultAgentTriggers
	}
	o := &Orchestrator{
		Store:        store,
		Understander: understander,
		DataClient:   dataClient,
		HandoffSvc:   handoff,
		cfg:          cfg,
	}
	if hooks.OnTurn != nil {
		o.onTurn = hooks.OnTurn
	}
	if hooks.OnEscalate != nil {
		o.onEscalate = hooks.OnEscalate
	}
	return o
}

func (o *Orchestrator) fireTurn(kind string) {
	if o.onTurn != nil {
		o.onTurn(kind)
	}
}

func (o *Orchestrator) fireEscalate(reason string) {
	if o.onEscalate != nil {
		o.onEscalate(reason)
	}
}

func containsAgentTrigger(text string, triggers []string) bool {
	lower := strings.ToLower(text)
	for _, t := range triggers {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// classifyAdapterErr maps a raw adapter error to its taxonomy Kind: a
// context deadline is AdapterTimeout, anything else is AdapterUnavailable.
func classifyAdapterErr(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindAdapterTimeout
	}
	return KindAdapterUnavailable
}

// recoverAdapterFailure recovers an adapter error inside the
// orchestrator rather than surfacing it to the caller: the turn ends
// with a localized apology, retry_count advances, the session stays
// ACTIVE.
func (o *Orchestrator) recoverAdapterFailure(state *domain.ConversationState, cause error) (*domain.TurnResult, error) {
	code := classifyAdapterErr(cause)
	o.fireTurn("adapter_failure:" + string(code))
	o.Metrics.ObserveAdapterError("adapter", string(code))
	state.RetryCount++
	reply := prompts.Select(state.Language, prompts.BucketClarification, state.ConversationID, state.RetryCount)
	state.History = append(state.History, domain.HistoryRecord{
		Role: domain.RoleBot, Text: reply, Timestamp: time.Now().UTC(),
	})
	state.LastActivity = time.Now().UTC()
	return &domain.TurnResult{ReplyText: reply}, nil
}

// escalateWithReason finalizes a conversation as ESCALATED using a
// generic (non-business) reply drawn from bucket, and best-effort
// notifies the Handoff adapter. A Handoff failure never fails the turn:
// the driver still hears the escalation line even if paging the agent
// queue errors, since the alternative (silently continuing the
// automated flow) is worse.
func (o *Orchestrator) escalateWithReason(ctx context.Context, state *domain.ConversationState, reason string, bucket prompts.Bucket) *domain.TurnResult {
	state.Status = domain.StatusEscalated
	state.CurrentIntent = ""
	reply := prompts.Select(state.Language, bucket, state.ConversationID, 0)
	state.History = append(state.History, domain.HistoryRecord{
		Role: domain.RoleBot, Text: reply, Timestamp: time.Now().UTC(),
	})
	state.LastActivity = time.Now().UTC()
	o.notifyHandoff(ctx, state, reason)
	return &domain.TurnResult{ReplyText: reply, ShouldEnd: true, NeedsEscalation: true}
}

func (o *Orchestrator) notifyHandoff(ctx context.Context, state *domain.ConversationState, reason string) {
	o.fireEscalate(reason)
	if o.HandoffSvc == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.HandoffTimeout)
	defer cancel()
	start := time.Now()
	_ = o.HandoffSvc.Escalate(callCtx, adapters.HandoffRequest{
		ConversationID: state.ConversationID,
		DriverID:       state.DriverID,
		Reason:         reason,
		Transcript:     redactTranscript(state.History),
		Slots:          state.Slots,
	})
	o.Metrics.ObserveTurnStage("handoff", time.Since(start))
}

// redactTranscript strips emails, phone numbers, and card-like digit runs
// out of the history handed to a human agent queue; a driver's payment or
// contact details spoken mid-turn shouldn't land in an escalation ticket.
func redactTranscript(history []domain.HistoryRecord) []domain.HistoryRecord {
	out := make([]domain.HistoryRecord, len(history))
	for i, rec := range history {
		rec.Text, _ = policy.RedactPII(rec.Text)
		out[i] = rec
	}
	return out
}

// SyncDroppedChunks records a turn controller's running backpressure-drop
// count onto the persisted session state's dropped_chunks field. The
// turn controller owns the live counter (it increments on every dropped
// chunk, not just once per turn); this just mirrors its current value
// onto the session a caller or export can read back.
func (o *Orchestrator) SyncDroppedChunks(ctx context.Context, conversationID string, count int) error {
	if conversationID == "" {
		return ErrInvalidInput
	}
	_, err := o.Store.WithLock(ctx, conversationID, func(state *domain.ConversationState) (*domain.TurnResult, error) {
		state.DroppedChunks = count
		return nil, nil
	})
	return err
}

// HandleAdapterFailure applies the same AdapterTimeout/AdapterUnavailable
// recovery HandleText uses internally, for adapter calls the turn
// controller makes outside the text pipeline (Recognizer.Transcribe,
// Synthesizer.Synthesize). The caller never sees cause surfaced as an
// error; it gets back the apology TurnResult to synthesize and speak.
func (o *Orchestrator) HandleAdapterFailure(ctx context.Context, conversationID string, cause error) (*domain.TurnResult, error) {
	if conversationID == "" {
		return nil, ErrInvalidInput
	}
	return o.Store.WithLock(ctx, conversationID, func(state *domain.ConversationState) (*domain.TurnResult, error) {
		if state.Terminal() {
			return nil, ErrSessionTerminal
		}
		return o.recoverAdapterFailure(state, cause)
	})
}

// HandleText runs the full dialogue turn for one recognized
// utterance. lang, if non-empty, renegotiates the session's
// language for this and subsequent turns.
func (o *Orchestrator) HandleText(ctx context.Context, conversationID, text string, lang domain.Language) (*domain.TurnResult, error) {
	if conversationID == "" || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	return o.Store.WithLock(ctx, conversationID, func(state *domain.ConversationState) (*domain.TurnResult, error) {
		if state.Terminal() {
			return nil, ErrSessionTerminal
		}
		if lang != "" {
			state.Language = lang
		}

		now := time.Now().UTC()
		state.History = append(state.History, domain.HistoryRecord{Role: domain.RoleUser, Text: text, Timestamp: now})
		state.NoResponseCount = 0
		state.LastActivity = now

		nluCtx, cancel := context.WithTimeout(ctx, o.cfg.UnderstandTimeout)
		nluStart := time.Now()
		nlu, err := o.Understander.Analyze(nluCtx, text, state.Language)
		cancel()
		o.Metrics.ObserveTurnStage("understand", time.Since(nluStart))
		if err != nil {
			return o.recoverAdapterFailure(state, err)
		}

		if nlu.Sentiment == domain.SentimentAngry || containsAgentTrigger(text, o.cfg.AgentTriggers) {
			return o.escalateWithReason(ctx, state, "angry sentiment or explicit agent request", prompts.BucketEscalation), nil
		}

		if nlu.Confidence < o.cfg.ConfidenceThreshold {
			state.RetryCount++
			if state.RetryCount > o.cfg.MaxRetry {
				return o.escalateWithReason(ctx, state, "low confidence exceeded retry budget", prompts.BucketEscalation), nil
			}
			reply := prompts.Select(state.Language, prompts.BucketClarification, conversationID, state.RetryCount)
			state.History = append(state.History, domain.HistoryRecord{Role: domain.RoleBot, Text: reply, Timestamp: time.Now().UTC()})
			o.fireTurn("low_confidence_retry")
			return &domain.TurnResult{ReplyText: reply}, nil
		}

		// Intent latches before entities merge, so a latched intent from
		// a prior turn survives an Unknown-intent slot-filling reply.
		if nlu.Intent != domain.IntentUnknown {
			state.CurrentIntent = nlu.Intent
		}
		for k, v := range nlu.Entities {
			state.Slots[k] = v
		}

		if state.CurrentIntent == "" {
			reply := prompts.Select(state.Language, prompts.BucketClarification, conversationID, 0)
			state.History = append(state.History, domain.HistoryRecord{Role: domain.RoleBot, Text: reply, Timestamp: time.Now().UTC()})
			o.fireTurn("intent_unresolved")
			return &domain.TurnResult{ReplyText: reply}, nil
		}

		dataStart := time.Now()
		tr, err := dispatchIntent(ctx, state, o.DataClient, o.cfg.DataTimeout)
		o.Metrics.ObserveTurnStage("data", time.Since(dataStart))
		if err != nil {
			var orchErr *Error
			if errors.As(err, &orchErr) && orchErr.Kind == KindInternal {
				result := o.escalateWithReason(ctx, state, "internal error: "+orchErr.Error(), prompts.BucketEscalation)
				return result, orchErr
			}
			return o.recoverAdapterFailure(state, err)
		}

		state.History = append(state.History, domain.HistoryRecord{Role: domain.RoleBot, Text: tr.ReplyText, Timestamp: time.Now().UTC()})
		switch {
		case tr.NeedsEscalation:
			state.Status = domain.StatusEscalated
			state.CurrentIntent = ""
			state.RetryCount = 0
			o.notifyHandoff(ctx, state, "intent handler requested escalation")
		case tr.ShouldEnd:
			state.Status = domain.StatusCompleted
			state.CurrentIntent = ""
			state.RetryCount = 0
		default:
			state.RetryCount = 0
		}
		state.LastActivity = time.Now().UTC()
		o.fireTurn("intent_dispatched:" + string(state.CurrentIntent))
		return tr, nil
	})
}

// HandleNoSpeech is called by the turn controller when a listening
// window elapses with nothing recognized. lang, if non-empty,
// renegotiates the session language.
func (o *Orchestrator) HandleNoSpeech(ctx context.Context, conversationID string, lang domain.Language) (*domain.TurnResult, error) {
	if conversationID == "" {
		return nil, ErrInvalidInput
	}

	return o.Store.WithLock(ctx, conversationID, func(state *domain.ConversationState) (*domain.TurnResult, error) {
		if state.Terminal() {
			return nil, ErrSessionTerminal
		}
		if lang != "" {
			state.Language = lang
		}

		state.NoResponseCount++
		if state.NoResponseCount > o.cfg.MaxNoResponse {
			o.fireTurn("no_response_escalation")
			return o.escalateWithReason(ctx, state, "no response after repeated prompts", prompts.BucketNoResponseFinal), nil
		}

		reply := prompts.Select(state.Language, prompts.BucketNoResponse, conversationID, state.NoResponseCount)
		state.History = append(state.History, domain.HistoryRecord{Role: domain.RoleBot, Text: reply, Timestamp: time.Now().UTC()})
		state.LastActivity = time.Now().UTC()
		o.fireTurn("no_response_prompt")
		return &domain.TurnResult{ReplyText: reply, ProactivePrompt: true}, nil
	})
}
