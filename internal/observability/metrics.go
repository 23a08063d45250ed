package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the orchestrator,
// turn controller, and transport layer.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	TurnEvents        *prometheus.CounterVec
	EscalationEvents  *prometheus.CounterVec
	VADDecisions      *prometheus.CounterVec
	DroppedChunks     prometheus.Counter
	WSMessages        *prometheus.CounterVec
	WSWriteErrors     *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	AdapterErrors     *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram
	TurnStageLatency  *prometheus.HistogramVec
	turnStageWindow   *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of conversations currently ACTIVE (not completed, escalated, or expired).",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Media-stream session lifecycle events by type (ws_connected, ws_disconnected).",
		}, []string{"event"}),
		TurnEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_events_total",
			Help:      "Dialogue turn outcomes by type (intent_dispatched, low_confidence_retry, intent_unresolved, no_response_prompt, no_response_escalation, adapter_failure).",
		}, []string{"event"}),
		EscalationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_events_total",
			Help:      "Human handoff escalations by trigger reason.",
		}, []string{"reason"}),
		VADDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_decisions_total",
			Help:      "Voice activity classifications by decision.",
		}, []string{"decision"}),
		DroppedChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_audio_chunks_total",
			Help:      "Audio chunks dropped by the turn controller while PROCESSING or SPEAKING, or before it reached LISTENING.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Telephony media-stream WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "Telephony media-stream WebSocket write errors by reason.",
		}, []string{"reason"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound replies by transport and delivery result.",
		}, []string{"type", "result"}),
		AdapterErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Recovered adapter failures by adapter and error kind.",
		}, []string{"adapter", "code"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from end-of-utterance to the first synthesized reply audio chunk, in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		TurnStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Turn-stage latency in milliseconds (understand, data, recognize, synthesize, handoff, turn_total).",
			Buckets:   []float64{20, 50, 100, 150, 250, 400, 700, 1200, 2000, 4000, 7000, 10000},
		}, []string{"stage"}),
		turnStageWindow: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil || m.FirstAudioLatency == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || m.TurnStageLatency == nil {
		return
	}
	ms := float64(d.Milliseconds())
	m.TurnStageLatency.WithLabelValues(stage).Observe(ms)
	m.turnStageWindow.Observe(stage, ms)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil || m.SessionEvents == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTurnEvent(event string) {
	if m == nil || m.TurnEvents == nil {
		return
	}
	m.TurnEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveEscalation(reason string) {
	if m == nil || m.EscalationEvents == nil {
		return
	}
	m.EscalationEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveVADDecision(decision string) {
	if m == nil || m.VADDecisions == nil {
		return
	}
	m.VADDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveDroppedChunk() {
	if m == nil || m.DroppedChunks == nil {
		return
	}
	m.DroppedChunks.Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil || m.OutboundMessages == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveAdapterError(adapter, code string) {
	if m == nil || m.AdapterErrors == nil {
		return
	}
	m.AdapterErrors.WithLabelValues(adapter, code).Inc()
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil || m.turnStageWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.turnStageWindow.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	if m == nil || m.turnStageWindow == nil {
		return
	}
	m.turnStageWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
