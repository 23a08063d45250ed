// Package domain holds the shared data model for the conversation
// orchestrator: conversation state, the closed intent and sentiment
// sets, and the turn-level request/response shapes every adapter and
// component exchanges.
package domain

import "time"

// Language is the negotiated dialogue language, renegotiable per turn.
type Language string

const (
	LanguageEN Language = "en"
	LanguageHI Language = "hi"
)

// IntentType is the closed set of intents the orchestrator can dispatch.
type IntentType string

const (
	IntentGetSwapHistory      IntentType = "GetSwapHistory"
	IntentExplainInvoice      IntentType = "ExplainInvoice"
	IntentFindNearestStation  IntentType = "FindNearestStation"
	IntentCheckAvailability   IntentType = "CheckAvailability"
	IntentCheckSubscription   IntentType = "CheckSubscription"
	IntentRenewSubscription   IntentType = "RenewSubscription"
	IntentPricingInfo         IntentType = "PricingInfo"
	IntentLeaveInfo           IntentType = "LeaveInfo"
	IntentFindDSK             IntentType = "FindDSK"
	IntentUnknown             IntentType = "Unknown"
)

// Sentiment is the closed set of sentiment classifications the
// understander may attach to a recognized utterance.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
	SentimentAngry    Sentiment = "Angry"
)

// Status is the lifecycle state of a ConversationState.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusEscalated Status = "ESCALATED"
)

// Role distinguishes the speaker in a HistoryRecord.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// HistoryRecord is one append-only entry in a conversation's transcript.
type HistoryRecord struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the full per-conversation record owned by the
// orchestrator and persisted by a SessionStore. Every turn that
// mutates it must hold the store's per-key lock.
type ConversationState struct {
	ConversationID  string            `json:"conversation_id"`
	DriverID        string            `json:"driver_id,omitempty"`
	Language        Language          `json:"language"`
	CurrentIntent   IntentType        `json:"current_intent,omitempty"`
	Slots           map[string]any    `json:"slots"`
	Status          Status            `json:"status"`
	History         []HistoryRecord   `json:"history"`
	RetryCount      int               `json:"retry_count"`
	NoResponseCount int               `json:"no_response_count"`
	LastActivity    time.Time         `json:"last_activity"`
	DroppedChunks   int               `json:"dropped_chunks"`
}

// NewConversationState creates a fresh ACTIVE state for a conversation id.
func NewConversationState(conversationID string, lang Language) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Language:       lang,
		Status:         StatusActive,
		Slots:          make(map[string]any),
		LastActivity:   time.Now().UTC(),
	}
}

// Terminal reports whether the conversation can no longer accept turns.
func (s *ConversationState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusEscalated
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// store's lock (slots map and history slice are copied).
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Slots = make(map[string]any, len(s.Slots))
	for k, v := range s.Slots {
		c.Slots[k] = v
	}
	c.History = append([]HistoryRecord(nil), s.History...)
	return &c
}

// NLUResult is the understander's analysis of one recognized utterance.
type NLUResult struct {
	Intent     IntentType
	Confidence float64
	Entities   map[string]any
	Sentiment  Sentiment
}

// TurnResult is what the orchestrator returns for every turn, text or voice.
type TurnResult struct {
	ReplyText        string
	ShouldEnd        bool
	NeedsEscalation  bool
	ProactivePrompt  bool
	Data             map[string]any
}
