package prompts

import (
	"testing"

	"github.com/antoniostano/voiceassist/internal/domain"
)

func TestSelectIsDeterministic(t *testing.T) {
	a := Select(domain.LanguageEN, BucketNoResponse, "conv-1", 1)
	b := Select(domain.LanguageEN, BucketNoResponse, "conv-1", 1)
	if a != b {
		t.Fatalf("Select not deterministic: %q vs %q", a, b)
	}
}

func TestSelectAdvancesWithinSession(t *testing.T) {
	seen := map[string]bool{}
	for i := 1; i <= 3; i++ {
		seen[Select(domain.LanguageEN, BucketNoResponse, "conv-2", i)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct prompts across counters 1..3, got %d: %v", len(seen), seen)
	}
}

func TestSelectFallsBackToEnglishForUnknownLanguage(t *testing.T) {
	got := Select(domain.Language("fr"), BucketGreeting, "conv-3", 0)
	if got == "" {
		t.Fatalf("expected a fallback EN greeting, got empty string")
	}
}

func TestSelectEveryLanguageHasRequiredBuckets(t *testing.T) {
	required := []Bucket{BucketGreeting, BucketClarification, BucketNoResponse, BucketFarewell}
	for lang := range tables {
		for _, b := range required {
			if len(tables[lang][b]) == 0 {
				t.Fatalf("language %q missing prompts for bucket %q", lang, b)
			}
		}
	}
}
