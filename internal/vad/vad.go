// Package vad implements the voice activity detector: a pure function
// over a decoded PCM buffer that classifies it as speech-bearing or
// silence. It makes no external calls and is fully deterministic —
// identical inputs always yield identical outputs.
package vad

import "math"

// Config holds the thresholds a Classify call is evaluated against.
type Config struct {
	SilenceThresholdRMS float64
	MinSpeechSeconds    float64
	MaxSilenceSeconds   float64
	ZCRSpeechMin        float64
	ZCRSpeechMax        float64
}

// DefaultConfig returns thresholds tuned for 8-16kHz telephony-grade voice.
func DefaultConfig() Config {
	return Config{
		SilenceThresholdRMS: 0.01,
		MinSpeechSeconds:    0.3,
		MaxSilenceSeconds:   1.5,
		ZCRSpeechMin:        0.02,
		ZCRSpeechMax:        0.35,
	}
}

// Result is the VAD's classification of one buffer.
type Result struct {
	HasSpeech         bool
	RMS               float64
	ZeroCrossingRate  float64
	Reason            string
}

// Classify inspects mono PCM samples normalized to [-1, 1] and decides
// whether the buffer carries speech, given the sample rate and cfg.
// No call in this package blocks or touches shared state.
func Classify(samples []float64, sampleRate int, cfg Config) Result {
	if len(samples) == 0 || sampleRate <= 0 {
		return Result{Reason: "empty_buffer"}
	}

	rms := computeRMS(samples)
	zcr := computeZCR(samples)
	durationSeconds := float64(len(samples)) / float64(sampleRate)

	if rms < cfg.SilenceThresholdRMS {
		return Result{RMS: rms, ZeroCrossingRate: zcr, Reason: "below_rms_threshold"}
	}
	if zcr < cfg.ZCRSpeechMin || zcr > cfg.ZCRSpeechMax {
		return Result{RMS: rms, ZeroCrossingRate: zcr, Reason: "zcr_out_of_band"}
	}
	if durationSeconds < cfg.MinSpeechSeconds {
		return Result{RMS: rms, ZeroCrossingRate: zcr, Reason: "below_min_duration"}
	}

	return Result{HasSpeech: true, RMS: rms, ZeroCrossingRate: zcr, Reason: "speech"}
}

func computeRMS(samples []float64) float64 {
	var sumSquares float64
	for _, s := range samples {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

func computeZCR(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// DecodePCM16LE decodes little-endian signed 16-bit PCM bytes into
// samples normalized to [-1, 1].
func DecodePCM16LE(raw []byte) []float64 {
	n := len(raw) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		out[i] = float64(v) / 32768.0
	}
	return out
}
