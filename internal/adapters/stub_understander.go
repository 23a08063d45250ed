package adapters

import (
	"context"
	"regexp"
	"strings"

	"github.com/antoniostano/voiceassist/internal/domain"
)

// StubUnderstander is a rule-based Understander used when no hosted
// NLU provider is configured. It recognizes a small set of phrasings
// per intent plus a handful of entity patterns (location, date range,
// invoice id) and classifies sentiment from a fixed keyword list. It
// is deliberately simple: the orchestrator's behavior does not depend
// on the sophistication of the NLU behind this contract.
type StubUnderstander struct{}

func NewStubUnderstander() *StubUnderstander { return &StubUnderstander{} }

var (
	angryWords = []string{"angry", "furious", "terrible", "worst", "ridiculous", "unacceptable"}

	negativeWords = []string{"bad", "not happy", "disappointed", "annoyed", "frustrated"}

	positiveWords = []string{"great", "thanks", "thank you", "awesome", "perfect"}

	intentPhrases = map[domain.IntentType][]string{
		domain.IntentFindNearestStation: {"find station", "nearest station", "closest station", "swap station"},
		domain.IntentGetSwapHistory:     {"swap history", "my swaps", "battery history"},
		domain.IntentCheckSubscription:  {"my subscription", "subscription status", "check subscription"},
		domain.IntentExplainInvoice:     {"explain invoice", "invoice", "bill"},
		domain.IntentCheckAvailability:  {"availability", "any slots", "open slots"},
		domain.IntentRenewSubscription:  {"renew subscription", "renew my plan"},
		domain.IntentPricingInfo:        {"pricing", "how much", "price"},
		domain.IntentLeaveInfo:          {"leave balance", "holiday", "leave policy"},
		domain.IntentFindDSK:            {"driver service kiosk", "find dsk", "service kiosk"},
	}

	dateRangeRe = regexp.MustCompile(`(?i)\b(today|yesterday|this week|last week|this month|last month)\b`)
	invoiceIDRe = regexp.MustCompile(`(?i)\binvoice\s*#?\s*([a-z0-9-]+)\b`)
	locationRe  = regexp.MustCompile(`(?i)\bin\s+([a-z][a-z\s]{1,30})$`)
)

func (StubUnderstander) Analyze(_ context.Context, text string, _ domain.Language) (domain.NLUResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	result := domain.NLUResult{
		Intent:     domain.IntentUnknown,
		Confidence: 0.75,
		Entities:   map[string]any{},
		Sentiment:  domain.SentimentNeutral,
	}

	if normalized == "" {
		result.Confidence = 0.0
		return result, nil
	}

	for _, w := range angryWords {
		if strings.Contains(normalized, w) {
			result.Sentiment = domain.SentimentAngry
			break
		}
	}
	if result.Sentiment == domain.SentimentNeutral {
		for _, w := range negativeWords {
			if strings.Contains(normalized, w) {
				result.Sentiment = domain.SentimentNegative
				break
			}
		}
	}
	if result.Sentiment == domain.SentimentNeutral {
		for _, w := range positiveWords {
			if strings.Contains(normalized, w) {
				result.Sentiment = domain.SentimentPositive
				break
			}
		}
	}

	matched := false
	for intent, phrases := range intentPhrases {
		for _, p := range phrases {
			if strings.Contains(normalized, p) {
				result.Intent = intent
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}

	if m := dateRangeRe.FindStringSubmatch(normalized); m != nil {
		result.Entities["date_range"] = strings.ToLower(m[1])
	}
	if m := invoiceIDRe.FindStringSubmatch(normalized); m != nil {
		result.Entities["invoice_id"] = m[1]
	}
	if m := locationRe.FindStringSubmatch(normalized); m != nil {
		result.Entities["location"] = strings.TrimSpace(m[1])
	} else if !matched && looksLikeBareLocation(normalized) {
		result.Entities["location"] = strings.TrimSpace(text)
	}

	// A bare slot-filling reply (no intent phrase, but an entity fell
	// out of it — e.g. "Noida" answering "which area are you in?")
	// is still a confident recognition. Only a genuinely unrecognized
	// utterance drops confidence below the gate.
	if !matched && len(result.Entities) == 0 {
		result.Confidence = 0.4
	}

	return result, nil
}

// looksLikeBareLocation treats a single-word reply with no digits as a
// one-word slot answer (e.g. a driver replying "Noida" to "Which area
// are you in?") rather than running it through the full intent table.
func looksLikeBareLocation(normalized string) bool {
	if normalized == "" {
		return false
	}
	words := strings.Fields(normalized)
	if len(words) != 1 {
		return false
	}
	for _, r := range normalized {
		if r >= '0' && r <= '9' {
			return false
		}
	}
	return true
}
