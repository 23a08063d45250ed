package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the conversation orchestrator.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	ConfidenceThreshold  float64
	MaxRetry             int
	MaxNoResponse        int
	SilenceWindow        time.Duration
	EndOfUtteranceWindow time.Duration

	UnderstandTimeout time.Duration
	DataTimeout       time.Duration
	RecognizeTimeout  time.Duration
	SynthesizeTimeout time.Duration
	HandoffTimeout    time.Duration

	SessionInactivityTimeout time.Duration

	DatabaseURL string

	UnderstanderName string
	RecognizerName   string
	SynthesizerName  string
	DataClientName   string
	HandoffName      string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "voiceassist"),
		AllowAnyOrigin:       false,
		ConfidenceThreshold:  0.6,
		MaxRetry:             2,
		MaxNoResponse:        3,
		SilenceWindow:        1500 * time.Millisecond,
		EndOfUtteranceWindow: 1500 * time.Millisecond,
		UnderstandTimeout:    5 * time.Second,
		DataTimeout:          5 * time.Second,
		RecognizeTimeout:     10 * time.Second,
		SynthesizeTimeout:    10 * time.Second,
		HandoffTimeout:       5 * time.Second,

		SessionInactivityTimeout: 10 * time.Minute,
		ShutdownTimeout:          15 * time.Second,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),

		// "stub" keeps the service runnable with no external dependencies configured.
		UnderstanderName: envOrDefault("UNDERSTANDER", "stub"),
		RecognizerName:   envOrDefault("RECOGNIZER", "stub"),
		SynthesizerName:  envOrDefault("SYNTHESIZER", "stub"),
		DataClientName:   envOrDefault("DATA_CLIENT", "stub"),
		HandoffName:      envOrDefault("HANDOFF", "stub"),
	}

	var err error
	cfg.ConfidenceThreshold, err = floatFromEnv("CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRetry, err = intFromEnv("MAX_RETRY", cfg.MaxRetry)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxNoResponse, err = intFromEnv("MAX_NO_RESPONSE", cfg.MaxNoResponse)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceWindow, err = durationFromEnv("SILENCE_WINDOW", cfg.SilenceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.EndOfUtteranceWindow, err = durationFromEnv("END_OF_UTTERANCE_SILENCE", cfg.EndOfUtteranceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.UnderstandTimeout, err = durationFromEnv("TURN_TIMEOUT_UNDERSTAND", cfg.UnderstandTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DataTimeout, err = durationFromEnv("TURN_TIMEOUT_DATA", cfg.DataTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RecognizeTimeout, err = durationFromEnv("TURN_TIMEOUT_RECOGNIZE", cfg.RecognizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesizeTimeout, err = durationFromEnv("TURN_TIMEOUT_SYNTHESIZE", cfg.SynthesizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HandoffTimeout, err = durationFromEnv("TURN_TIMEOUT_HANDOFF", cfg.HandoffTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return Config{}, fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if cfg.MaxRetry < 0 {
		return Config{}, fmt.Errorf("MAX_RETRY must be >= 0")
	}
	if cfg.MaxNoResponse < 0 {
		return Config{}, fmt.Errorf("MAX_NO_RESPONSE must be >= 0")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
