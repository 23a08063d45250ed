package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Fatalf("ConfidenceThreshold = %v, want 0.6", cfg.ConfidenceThreshold)
	}
	if cfg.MaxRetry != 2 {
		t.Fatalf("MaxRetry = %v, want 2", cfg.MaxRetry)
	}
	if cfg.MaxNoResponse != 3 {
		t.Fatalf("MaxNoResponse = %v, want 3", cfg.MaxNoResponse)
	}
	if cfg.SilenceWindow != 1500*time.Millisecond {
		t.Fatalf("SilenceWindow = %v, want 1.5s", cfg.SilenceWindow)
	}
	if cfg.UnderstanderName != "stub" {
		t.Fatalf("UnderstanderName = %q, want stub", cfg.UnderstanderName)
	}
}

func TestLoadRejectsOutOfRangeConfidence(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONFIDENCE_THRESHOLD", "1.4")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want out-of-range error")
	}
}

func TestLoadParsesExplicitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MAX_RETRY", "5")
	t.Setenv("SILENCE_WINDOW", "2s")
	t.Setenv("DATA_CLIENT", "postgres")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxRetry != 5 {
		t.Fatalf("MaxRetry = %v, want 5", cfg.MaxRetry)
	}
	if cfg.SilenceWindow != 2*time.Second {
		t.Fatalf("SilenceWindow = %v, want 2s", cfg.SilenceWindow)
	}
	if cfg.DataClientName != "postgres" {
		t.Fatalf("DataClientName = %q, want postgres", cfg.DataClientName)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"CONFIDENCE_THRESHOLD",
		"MAX_RETRY",
		"MAX_NO_RESPONSE",
		"SILENCE_WINDOW",
		"END_OF_UTTERANCE_SILENCE",
		"TURN_TIMEOUT_UNDERSTAND",
		"TURN_TIMEOUT_DATA",
		"TURN_TIMEOUT_RECOGNIZE",
		"TURN_TIMEOUT_SYNTHESIZE",
		"TURN_TIMEOUT_HANDOFF",
		"DATABASE_URL",
		"UNDERSTANDER",
		"RECOGNIZER",
		"SYNTHESIZER",
		"DATA_CLIENT",
		"HANDOFF",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
