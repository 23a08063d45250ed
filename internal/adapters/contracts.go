// Package adapters defines the narrow capability contracts the core
// depends on and nothing else: Recognizer, Understander, DataClient,
// Synthesizer, Handoff, and SessionStore. Concrete provider wiring
// (cloud ASR/TTS vendors, telephony carriers, a specific SQL engine)
// lives outside this package and is injected at construction — the
// orchestrator and turn controller never import a concrete adapter.
package adapters

import (
	"context"
	"time"

	"github.com/antoniostano/voiceassist/internal/domain"
)

// Recognizer turns a buffered audio utterance into text.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, lang domain.Language) (string, error)
}

// Understander turns recognized text into intent, entities, confidence
// and sentiment.
type Understander interface {
	Analyze(ctx context.Context, text string, lang domain.Language) (domain.NLUResult, error)
}

// Synthesizer turns reply text into audio bytes for playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, lang domain.Language) ([]byte, error)
}

// HandoffRequest summarizes why and with what context a conversation is
// being escalated to a human agent.
type HandoffRequest struct {
	ConversationID string
	DriverID       string
	Reason         string
	Transcript     []domain.HistoryRecord
	Slots          map[string]any
}

// Handoff escalates a conversation to a human agent.
type Handoff interface {
	Escalate(ctx context.Context, req HandoffRequest) error
}

// SessionStore is the contract for loading, creating, and persisting
// ConversationState, with per-conversation-id mutual exclusion for the
// duration of a turn. A networked replacement must still provide this
// exclusion (e.g. via a lease or transaction) — callers never take
// their own lock around it.
type SessionStore interface {
	GetOrCreate(ctx context.Context, conversationID string, lang domain.Language) (*domain.ConversationState, error)
	Save(ctx context.Context, state *domain.ConversationState) error
	WithLock(ctx context.Context, conversationID string, fn func(*domain.ConversationState) (*domain.TurnResult, error)) (*domain.TurnResult, error)
}

// Station is the result of a nearest-station lookup.
type Station struct {
	Name    string
	Address string
}

// SwapRecord is one historical battery swap event.
type SwapRecord struct {
	Timestamp time.Time
	StationID string
}

// Subscription describes a driver's current plan state.
type Subscription struct {
	Status string
	Expiry time.Time
}

// Invoice describes a single billed invoice.
type Invoice struct {
	InvoiceID string
	Amount    float64
	Summary   string
}

// Availability describes open swap slots at a station.
type Availability struct {
	StationID     string
	OpenSlots     int
	WaitEstimate  time.Duration
}

// RenewalResult describes the outcome of a subscription renewal attempt.
type RenewalResult struct {
	Renewed            bool
	RequiresPayment     bool
	NewExpiry          time.Time
}

// Pricing describes the current plan pricing.
type Pricing struct {
	PlanName string
	Monthly  float64
}

// LeavePolicy describes a driver's leave/holiday entitlement.
type LeavePolicy struct {
	DaysRemaining int
	PolicySummary string
}

// Kiosk is the result of a nearest driver-service-kiosk lookup.
type Kiosk struct {
	Name    string
	Address string
}

// DataClient is the single narrow contract the orchestrator depends on
// for every backend lookup its intent handlers need. Each method backs
// one intent's lookup; FindNearestStation is also reused by the
// CheckAvailability handler to resolve a location to a station.
type DataClient interface {
	FindNearestStation(ctx context.Context, location string) (Station, error)
	GetSwapHistory(ctx context.Context, driverID, dateRange string) ([]SwapRecord, error)
	CheckSubscription(ctx context.Context, driverID string) (Subscription, error)
	ExplainInvoice(ctx context.Context, driverID, invoiceID string) (Invoice, error)
	CheckAvailability(ctx context.Context, stationID string) (Availability, error)
	RenewSubscription(ctx context.Context, driverID string) (RenewalResult, error)
	PricingInfo(ctx context.Context) (Pricing, error)
	LeaveInfo(ctx context.Context, driverID string) (LeavePolicy, error)
	FindDSK(ctx context.Context, location string) (Kiosk, error)
}
