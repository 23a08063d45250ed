// Package prompts holds the localized (EN/HI) prompt tables the
// orchestrator and turn controller draw from, with deterministic
// selection within a bucket so a given session never sounds random
// across repeated runs — only varied within a conversation.
package prompts

import (
	"hash/fnv"

	"github.com/antoniostano/voiceassist/internal/domain"
)

// Bucket names one category of prompt.
type Bucket string

const (
	BucketGreeting           Bucket = "greeting"
	BucketClarification      Bucket = "clarification"
	BucketNoResponse         Bucket = "no_response"
	BucketNoResponseFinal    Bucket = "no_response_final"
	BucketFarewell           Bucket = "farewell"
	BucketEscalation         Bucket = "escalation"
	BucketSlotElicitation    Bucket = "slot_elicitation"
)

var tables = map[domain.Language]map[Bucket][]string{
	domain.LanguageEN: {
		BucketGreeting: {
			"Hi, I'm your driver support assistant. How can I help you today?",
			"Hello! I'm here to help with your swap station, invoices, or subscription. What's up?",
		},
		BucketClarification: {
			"I'm sorry, I didn't quite catch that. Could you please repeat?",
			"Sorry, could you say that again a bit differently?",
		},
		BucketNoResponse: {
			"I didn't hear anything — are you still there?",
			"Still with me? Let me know how I can help.",
			"Just checking in — go ahead whenever you're ready.",
		},
		BucketNoResponseFinal: {
			"I haven't heard from you, so I'll connect you with a human agent now.",
		},
		BucketFarewell: {
			"Thanks for calling, have a great day!",
		},
		BucketEscalation: {
			"I'm connecting you with a human agent who can help further.",
		},
		BucketSlotElicitation: {
			"Which area are you in?",
		},
	},
	domain.LanguageHI: {
		BucketGreeting: {
			"नमस्ते, मैं आपका ड्राइवर सहायक हूँ। मैं आपकी कैसे मदद कर सकता हूँ?",
			"नमस्कार! स्टेशन, बिल या सब्सक्रिप्शन के बारे में पूछें।",
		},
		BucketClarification: {
			"माफ़ कीजिए, मैं समझ नहीं पाया। क्या आप दोबारा बता सकते हैं?",
			"क्षमा करें, कृपया थोड़ा अलग तरीके से बताएं।",
		},
		BucketNoResponse: {
			"मुझे कुछ सुनाई नहीं दिया — क्या आप अभी भी वहाँ हैं?",
			"क्या आप अभी भी लाइन पर हैं? बताइए मैं कैसे मदद करूँ।",
			"बस जांच रहा हूँ — जब तैयार हों तब बताइए।",
		},
		BucketNoResponseFinal: {
			"मुझे आपकी तरफ़ से कोई जवाब नहीं मिला, इसलिए मैं अभी आपको एक एजेंट से जोड़ रहा हूँ।",
		},
		BucketFarewell: {
			"कॉल करने के लिए धन्यवाद, आपका दिन शुभ हो!",
		},
		BucketEscalation: {
			"मैं आपको एक एजेंट से जोड़ रहा हूँ जो आगे मदद कर सकता है।",
		},
		BucketSlotElicitation: {
			"आप किस इलाके में हैं?",
		},
	},
}

// Select deterministically picks a prompt for (lang, bucket) using a
// hash of conversationID offset by counter, so repeated calls within a
// session advance through the bucket's options instead of repeating,
// and a given (id, counter) pair always reproduces the same selection.
func Select(lang domain.Language, bucket Bucket, conversationID string, counter int) string {
	options, ok := tables[lang][bucket]
	if !ok || len(options) == 0 {
		options = tables[domain.LanguageEN][bucket]
	}
	if len(options) == 0 {
		return ""
	}
	if len(options) == 1 {
		return options[0]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	base := int(h.Sum32())
	// Offsetting by counter (not hashing counter in) guarantees each
	// successive call within a session advances to the next option
	// rather than risking a repeat hash collision.
	idx := (base + counter) % len(options)
	if idx < 0 {
		idx += len(options)
	}
	return options[idx]
}
