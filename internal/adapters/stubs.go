package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/voiceassist/internal/audio"
	"github.com/antoniostano/voiceassist/internal/domain"
)

// StubDataClient returns canned data for every intent's backend lookup,
// deterministic except CheckSubscription, whose expiry is one month
// after the call. It exists so the orchestrator and its tests never
// need a live data-plane dependency; a production deployment swaps
// this for a real DataClient behind the same contract.
type StubDataClient struct{}

func NewStubDataClient() *StubDataClient { return &StubDataClient{} }

func (StubDataClient) FindNearestStation(_ context.Context, location string) (Station, error) {
	name := strings.TrimSpace(location)
	if name == "" {
		name = "Central"
	}
	return Station{
		Name:    fmt.Sprintf("Station %s", strings.Title(name)),
		Address: fmt.Sprintf("Main Road, %s", strings.Title(name)),
	}, nil
}

func (StubDataClient) GetSwapHistory(_ context.Context, _ string, _ string) ([]SwapRecord, error) {
	return []SwapRecord{
		{Timestamp: time.Date(2026, 1, 22, 14, 30, 0, 0, time.UTC), StationID: "stn-42"},
	}, nil
}

func (StubDataClient) CheckSubscription(_ context.Context, _ string) (Subscription, error) {
	return Subscription{Status: "active", Expiry: time.Now().AddDate(0, 1, 0)}, nil
}

func (StubDataClient) ExplainInvoice(_ context.Context, _, invoiceID string) (Invoice, error) {
	return Invoice{InvoiceID: invoiceID, Amount: 499.0, Summary: "monthly subscription + 2 swaps"}, nil
}

func (StubDataClient) CheckAvailability(_ context.Context, stationID string) (Availability, error) {
	return Availability{StationID: stationID, OpenSlots: 3, WaitEstimate: 5 * time.Minute}, nil
}

func (StubDataClient) RenewSubscription(_ context.Context, _ string) (RenewalResult, error) {
	return RenewalResult{Renewed: false, RequiresPayment: true}, nil
}

func (StubDataClient) PricingInfo(_ context.Context) (Pricing, error) {
	return Pricing{PlanName: "Standard", Monthly: 499.0}, nil
}

func (StubDataClient) LeaveInfo(_ context.Context, _ string) (LeavePolicy, error) {
	return LeavePolicy{DaysRemaining: 4, PolicySummary: "4 paid leave days remaining this quarter"}, nil
}

func (StubDataClient) FindDSK(_ context.Context, location string) (Kiosk, error) {
	name := strings.TrimSpace(location)
	if name == "" {
		name = "Central"
	}
	return Kiosk{Name: fmt.Sprintf("DSK %s", strings.Title(name)), Address: fmt.Sprintf("Service Road, %s", strings.Title(name))}, nil
}

// StubRecognizer returns a fixed placeholder transcript for any
// non-empty audio (and an empty transcript for empty audio), so callers
// with no real ASR wired up can still exercise the voice turn path end
// to end.
type StubRecognizer struct{}

func NewStubRecognizer() *StubRecognizer { return &StubRecognizer{} }

func (StubRecognizer) Transcribe(_ context.Context, audio []byte, _ domain.Language) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

// stubSynthesizeSampleRate is the sample rate StubSynthesizer wraps its
// placeholder PCM in; it has no bearing on what a real TTS vendor uses.
const stubSynthesizeSampleRate = 16000

// StubSynthesizer turns reply text into a silent WAV-wrapped PCM buffer
// whose duration scales with the text length, standing in for audio so
// the turn controller and its tests can exercise the synthesize
// suspension point — and a caller expecting a playable container, not
// a raw byte blob — without a real TTS vendor.
type StubSynthesizer struct{}

func NewStubSynthesizer() *StubSynthesizer { return &StubSynthesizer{} }

func (StubSynthesizer) Synthesize(_ context.Context, text string, _ domain.Language) ([]byte, error) {
	// ~60ms of audio per character, clamped to a sane playback range.
	durationMS := len(text) * 60
	if durationMS < 300 {
		durationMS = 300
	}
	if durationMS > 8000 {
		durationMS = 8000
	}
	samples := stubSynthesizeSampleRate * durationMS / 1000
	pcm := make([]byte, samples*2)
	return audio.EncodeWAVPCM16LE(pcm, stubSynthesizeSampleRate)
}

// StubHandoff records escalations in memory; useful for tests and for
// running the service with no human-agent queue configured.
type StubHandoff struct {
	Requests []HandoffRequest
}

func NewStubHandoff() *StubHandoff { return &StubHandoff{} }

func (h *StubHandoff) Escalate(_ context.Context, req HandoffRequest) error {
	h.Requests = append(h.Requests, req)
	return nil
}
