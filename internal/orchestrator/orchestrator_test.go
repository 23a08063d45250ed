package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/domain"
	"github.com/antoniostano/voiceassist/internal/session"
)

func newTestOrchestrator() (*Orchestrator, *adapters.StubHandoff) {
	store := session.NewInMemoryStore(time.Minute)
	handoff := adapters.NewStubHandoff()
	o := New(store, adapters.NewStubUnderstander(), adapters.NewStubDataClient(), handoff, Config{}, Hooks{})
	return o, handoff
}

func TestStationHappyPath(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	tr, err := o.HandleText(ctx, "conv-station", "find nearest station", domain.LanguageEN)
	if err != nil {
		t.Fatalf("first turn error = %v", err)
	}
	if tr.ShouldEnd {
		t.Fatalf("expected a slot-elicitation turn, got ShouldEnd=true: %q", tr.ReplyText)
	}

	tr, err = o.HandleText(ctx, "conv-station", "Noida", "")
	if err != nil {
		t.Fatalf("second turn error = %v", err)
	}
	if !tr.ShouldEnd {
		t.Fatalf("expected station lookup to end the turn, got %+v", tr)
	}
	if tr.NeedsEscalation {
		t.Fatalf("did not expect escalation, got %+v", tr)
	}
}

func TestEscalatesImmediatelyOnAnger(t *testing.T) {
	o, handoff := newTestOrchestrator()
	ctx := context.Background()

	tr, err := o.HandleText(ctx, "conv-angry", "this is terrible and unacceptable service", domain.LanguageEN)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !tr.NeedsEscalation || !tr.ShouldEnd {
		t.Fatalf("expected immediate escalation, got %+v", tr)
	}
	if len(handoff.Requests) != 1 {
		t.Fatalf("expected exactly one handoff request, got %d", len(handoff.Requests))
	}

	// a terminal session rejects further turns without mutating state
	_, err = o.HandleText(ctx, "conv-angry", "hello again", domain.LanguageEN)
	if !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("expected ErrSessionTerminal, got %v", err)
	}
	if len(handoff.Requests) != 1 {
		t.Fatalf("expected handoff count to stay at 1 after terminal rejection, got %d", len(handoff.Requests))
	}
}

func TestEscalatesOnAgentTriggerWord(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	tr, err := o.HandleText(ctx, "conv-agent", "I want to speak to a human please", domain.LanguageEN)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !tr.NeedsEscalation {
		t.Fatalf("expected escalation on explicit agent request, got %+v", tr)
	}
}

func TestRetryBudgetEscalatesAfterMaxRetry(t *testing.T) {
	store := session.NewInMemoryStore(time.Minute)
	handoff := adapters.NewStubHandoff()
	o := New(store, adapters.NewStubUnderstander(), adapters.NewStubDataClient(), handoff, Config{MaxRetry: 2}, Hooks{})
	ctx := context.Background()

	gibberish := "xqzv plonk fizzbarp"
	for i := 1; i <= 2; i++ {
		tr, err := o.HandleText(ctx, "conv-retry", gibberish, domain.LanguageEN)
		if err != nil {
			t.Fatalf("turn %d error = %v", i, err)
		}
		if tr.ShouldEnd {
			t.Fatalf("turn %d: expected a clarification retry, got ShouldEnd=true", i)
		}
	}

	tr, err := o.HandleText(ctx, "conv-retry", gibberish, domain.LanguageEN)
	if err != nil {
		t.Fatalf("final turn error = %v", err)
	}
	if !tr.NeedsEscalation {
		t.Fatalf("expected escalation once retry_count exceeds MaxRetry, got %+v", tr)
	}
	if len(handoff.Requests) != 1 {
		t.Fatalf("expected exactly one handoff, got %d", len(handoff.Requests))
	}
}

func TestNoResponseEscalatesAfterMaxNoResponse(t *testing.T) {
	store := session.NewInMemoryStore(time.Minute)
	handoff := adapters.NewStubHandoff()
	o := New(store, adapters.NewStubUnderstander(), adapters.NewStubDataClient(), handoff, Config{MaxNoResponse: 3}, Hooks{})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tr, err := o.HandleNoSpeech(ctx, "conv-silent", domain.LanguageEN)
		if err != nil {
			t.Fatalf("silence %d error = %v", i, err)
		}
		if !tr.ProactivePrompt || tr.ShouldEnd {
			t.Fatalf("silence %d: expected a proactive prompt, got %+v", i, tr)
		}
	}

	tr, err := o.HandleNoSpeech(ctx, "conv-silent", domain.LanguageEN)
	if err != nil {
		t.Fatalf("final silence error = %v", err)
	}
	if !tr.NeedsEscalation {
		t.Fatalf("expected escalation on the 4th consecutive silence, got %+v", tr)
	}
}

func TestNoResponsePromptsAreDistinctAcrossConsecutiveSilences(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 1; i <= 2; i++ {
		tr, err := o.HandleNoSpeech(ctx, "conv-varied", domain.LanguageEN)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		seen[tr.ReplyText] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct proactive prompts, got %d: %v", len(seen), seen)
	}
}

func TestUserSpeechResetsNoResponseCount(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	// Three silences bring no_response_count up to the default
	// MaxNoResponse; without a reset, the silence after the user's
	// (non-completing) turn would escalate.
	for i := 1; i <= 3; i++ {
		if _, err := o.HandleNoSpeech(ctx, "conv-reset", domain.LanguageEN); err != nil {
			t.Fatalf("HandleNoSpeech %d error = %v", i, err)
		}
	}
	if _, err := o.HandleText(ctx, "conv-reset", "find nearest station", domain.LanguageEN); err != nil {
		t.Fatalf("HandleText error = %v", err)
	}

	tr, err := o.HandleNoSpeech(ctx, "conv-reset", domain.LanguageEN)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if tr.ShouldEnd || tr.NeedsEscalation {
		t.Fatalf("expected a fresh proactive prompt after reset, got %+v", tr)
	}
}

func TestSwapHistoryReturnsMostRecentTimestamp(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	if _, err := o.HandleText(ctx, "conv-swaps", "show my swap history", domain.LanguageEN); err != nil {
		t.Fatalf("first turn error = %v", err)
	}
	tr, err := o.HandleText(ctx, "conv-swaps", "this week", "")
	if err != nil {
		t.Fatalf("second turn error = %v", err)
	}
	if !tr.ShouldEnd {
		t.Fatalf("expected the swap history lookup to end the turn, got %+v", tr)
	}
}

// Regression: Format layouts must use the reference time "2006-01-02
// 15:04", not a literal "2026" — using the wrong numeral copies it
// through as literal text instead of substituting the real year.
func TestSwapHistoryFormatsDateWithReferenceLayout(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	if _, err := o.HandleText(ctx, "conv-swaps-date", "show my swap history", domain.LanguageEN); err != nil {
		t.Fatalf("first turn error = %v", err)
	}
	tr, err := o.HandleText(ctx, "conv-swaps-date", "this week", "")
	if err != nil {
		t.Fatalf("second turn error = %v", err)
	}
	const want = "2026-01-22 14:30"
	if !strings.Contains(tr.ReplyText, want) {
		t.Fatalf("ReplyText = %q, want it to contain %q", tr.ReplyText, want)
	}
}

func TestSubscriptionFormatsExpiryWithReferenceLayout(t *testing.T) {
	store := session.NewInMemoryStore(time.Minute)
	dc := fixedExpiryDataClient{expiry: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)}
	o := New(store, adapters.NewStubUnderstander(), dc, adapters.NewStubHandoff(), Config{}, Hooks{})
	ctx := context.Background()

	tr, err := o.HandleText(ctx, "conv-sub-date", "check my subscription status", domain.LanguageEN)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	const want = "2026-03-15"
	if !strings.Contains(tr.ReplyText, want) {
		t.Fatalf("ReplyText = %q, want it to contain %q", tr.ReplyText, want)
	}
}

type fixedExpiryDataClient struct {
	adapters.StubDataClient
	expiry time.Time
}

func (f fixedExpiryDataClient) CheckSubscription(_ context.Context, _ string) (adapters.Subscription, error) {
	return adapters.Subscription{Status: "active", Expiry: f.expiry}, nil
}

func TestLanguageSwitchMidConversation(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	if _, err := o.HandleText(ctx, "conv-lang", "find nearest station", domain.LanguageEN); err != nil {
		t.Fatalf("error = %v", err)
	}
	tr, err := o.HandleNoSpeech(ctx, "conv-lang", domain.LanguageHI)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	found := false
	for _, opt := range []string{
		"मुझे कुछ सुनाई नहीं दिया — क्या आप अभी भी वहाँ हैं?",
		"क्या आप अभी भी लाइन पर हैं? बताइए मैं कैसे मदद करूँ।",
		"बस जांच रहा हूँ — जब तैयार हों तब बताइए।",
	} {
		if tr.ReplyText == opt {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Hindi no-response prompt after language switch, got %q", tr.ReplyText)
	}
}

func TestConfidenceExactlyAtThresholdPasses(t *testing.T) {
	store := session.NewInMemoryStore(time.Minute)
	o := New(store, fixedConfidenceUnderstander{confidence: 0.6, intent: domain.IntentPricingInfo}, adapters.NewStubDataClient(), adapters.NewStubHandoff(), Config{ConfidenceThreshold: 0.6}, Hooks{})
	ctx := context.Background()

	tr, err := o.HandleText(ctx, "conv-boundary", "whatever", domain.LanguageEN)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !tr.ShouldEnd {
		t.Fatalf("expected confidence == threshold to pass the gate, got %+v", tr)
	}
}

func TestInvalidInputRejectsEmptyConversationID(t *testing.T) {
	o, _ := newTestOrchestrator()
	_, err := o.HandleText(context.Background(), "", "hello", domain.LanguageEN)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

type fixedConfidenceUnderstander struct {
	confidence float64
	intent     domain.IntentType
}

func (f fixedConfidenceUnderstander) Analyze(_ context.Context, _ string, _ domain.Language) (domain.NLUResult, error) {
	return domain.NLUResult{
		Intent:     f.intent,
		Confidence: f.confidence,
		Entities:   map[string]any{},
		Sentiment:  domain.SentimentNeutral,
	}, nil
}
