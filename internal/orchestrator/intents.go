package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/domain"
)

// errUnhandledIntent backstops the dispatch table: every member of the
// closed domain.IntentType set (besides Unknown, handled before
// dispatch) has an entry in intentHandlers below. A failed lookup means
// a ConversationState was corrupted into an intent value outside the
// closed set.
var errUnhandledIntent = errors.New("orchestrator: no handler registered for intent")

// intentHandler is a pure function over (state, DataClient): it reads
// and writes slots/current-intent on state and returns the reply for
// this turn. It never touches history, status, or retry_count — the
// caller (HandleText) owns those.
type intentHandler func(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error)

func dispatchIntent(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	handler, ok := intentHandlers[state.CurrentIntent]
	if !ok {
		return nil, newError(KindInternal, fmt.Errorf("%w: %q", errUnhandledIntent, state.CurrentIntent))
	}
	return handler(ctx, state, dc, timeout)
}

var intentHandlers = map[domain.IntentType]intentHandler{
	domain.IntentFindNearestStation: handleFindNearestStation,
	domain.IntentGetSwapHistory:     handleGetSwapHistory,
	domain.IntentCheckSubscription:  handleCheckSubscription,
	domain.IntentExplainInvoice:     handleExplainInvoice,
	domain.IntentCheckAvailability:  handleCheckAvailability,
	domain.IntentRenewSubscription:  handleRenewSubscription,
	domain.IntentPricingInfo:        handlePricingInfo,
	domain.IntentLeaveInfo:          handleLeaveInfo,
	domain.IntentFindDSK:            handleFindDSK,
}

func slotString(state *domain.ConversationState, key string) string {
	v, ok := state.Slots[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func handleFindNearestStation(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	location := slotString(state, "location")
	if location == "" {
		return &domain.TurnResult{ReplyText: "Which area are you in?"}, nil
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	station, err := dc.FindNearestStation(callCtx, location)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("The nearest station is %s at %s.", station.Name, station.Address),
		ShouldEnd: true,
	}, nil
}

func handleGetSwapHistory(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	dateRange := slotString(state, "date_range")
	if dateRange == "" {
		return &domain.TurnResult{ReplyText: "Which date or period?"}, nil
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	records, err := dc.GetSwapHistory(callCtx, state.DriverID, dateRange)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	if len(records) == 0 {
		return &domain.TurnResult{ReplyText: "I couldn't find any swaps in that period.", ShouldEnd: true}, nil
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("You have %d swap(s) in that period. The most recent was on %s.",
			len(records), latest.Timestamp.Format("2006-01-02 15:04")),
		ShouldEnd: true,
		Data:      map[string]any{"count": len(records), "latest": latest.Timestamp},
	}, nil
}

func handleCheckSubscription(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	sub, err := dc.CheckSubscription(callCtx, state.DriverID)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("Your subscription is %s, valid until %s.", sub.Status, sub.Expiry.Format("2006-01-02")),
		ShouldEnd: true,
	}, nil
}

func handleExplainInvoice(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	invoiceID := slotString(state, "invoice_id")
	if invoiceID == "" {
		return &domain.TurnResult{ReplyText: "Which invoice would you like explained?"}, nil
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	inv, err := dc.ExplainInvoice(callCtx, state.DriverID, invoiceID)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("Invoice %s is for %.2f: %s.", inv.InvoiceID, inv.Amount, inv.Summary),
		ShouldEnd: true,
	}, nil
}

func handleCheckAvailability(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	stationID := slotString(state, "station_id")
	if stationID == "" {
		location := slotString(state, "location")
		if location == "" {
			return &domain.TurnResult{ReplyText: "Which area are you in?"}, nil
		}
		callCtx, cancel := withTimeout(ctx, timeout)
		station, err := dc.FindNearestStation(callCtx, location)
		cancel()
		if err != nil {
			return nil, err
		}
		stationID = station.Name
		state.Slots["station_id"] = stationID
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	avail, err := dc.CheckAvailability(callCtx, stationID)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("%s has %d open slot(s), roughly a %s wait.",
			avail.StationID, avail.OpenSlots, avail.WaitEstimate.Round(time.Minute)),
		ShouldEnd: true,
	}, nil
}

func handleRenewSubscription(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	result, err := dc.RenewSubscription(callCtx, state.DriverID)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	if result.RequiresPayment {
		return &domain.TurnResult{
			ReplyText:       "Renewing your subscription needs a payment step I can't complete here, so I'll connect you with an agent.",
			NeedsEscalation: true,
		}, nil
	}
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("Your subscription is renewed, valid until %s.", result.NewExpiry.Format("2006-01-02")),
		ShouldEnd: true,
	}, nil
}

func handlePricingInfo(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	pricing, err := dc.PricingInfo(callCtx)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("The %s plan is %.2f per month.", pricing.PlanName, pricing.Monthly),
		ShouldEnd: true,
	}, nil
}

func handleLeaveInfo(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	policy, err := dc.LeaveInfo(callCtx, state.DriverID)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("You have %d leave day(s) remaining. %s", policy.DaysRemaining, policy.PolicySummary),
		ShouldEnd: true,
	}, nil
}

func handleFindDSK(ctx context.Context, state *domain.ConversationState, dc adapters.DataClient, timeout time.Duration) (*domain.TurnResult, error) {
	location := slotString(state, "location")
	if location == "" {
		return &domain.TurnResult{ReplyText: "Which area are you in?"}, nil
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	kiosk, err := dc.FindDSK(callCtx, location)
	if err != nil {
		return nil, err
	}
	state.CurrentIntent = ""
	return &domain.TurnResult{
		ReplyText: fmt.Sprintf("The nearest driver service kiosk is %s at %s.", kiosk.Name, kiosk.Address),
		ShouldEnd: true,
	}, nil
}
