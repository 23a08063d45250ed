// Package httpapi is the thin transport layer around the orchestrator
// and turn controller: plain JSON handlers for the request/response
// surfaces, a stand-in telephony instruction document, and a websocket
// handler for the bidirectional media-stream path. None of this layer
// holds dialogue state itself — it only ever calls into orchestrator
// and turncontroller.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/config"
	"github.com/antoniostano/voiceassist/internal/domain"
	"github.com/antoniostano/voiceassist/internal/observability"
	"github.com/antoniostano/voiceassist/internal/orchestrator"
	"github.com/antoniostano/voiceassist/internal/session"
	"github.com/antoniostano/voiceassist/internal/turncontroller"
)

// Server wires the orchestrator and the adapters it takes for Recognizer
// and Synthesizer access (needed by the two voice-carrying endpoints;
// the orchestrator itself stays transport-agnostic) onto a chi.Router.
type Server struct {
	cfg          config.Config
	orchestrator *orchestrator.Orchestrator
	store        *session.InMemoryStore
	recognizer   adapters.Recognizer
	synthesizer  adapters.Synthesizer
	metrics      *observability.Metrics
	tcConfig     turncontroller.Config
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, o *orchestrator.Orchestrator, store *session.InMemoryStore, rec adapters.Recognizer, synth adapters.Synthesizer, metrics *observability.Metrics, tcConfig turncontroller.Config) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: o,
		store:        store,
		recognizer:   rec,
		synthesizer:  synth,
		metrics:      metrics,
		tcConfig:     tcConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow same-origin websocket connections.
				// A carrier's media-stream bridge typically omits Origin
				// entirely, so that case is allowed through.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Post("/chat", s.handleChat)
	r.Post("/voice/process", s.handleVoiceProcess)
	r.Post("/telephony/voice", s.handleTelephonyVoice)
	r.Get("/telephony/media-stream-ws", s.handleMediaStreamWS)
	r.Get("/perf/latency", s.handlePerfLatency)
	r.Post("/perf/latency/reset", s.handlePerfLatencyReset)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.store != nil {
		active = s.store.ActiveCount()
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(active))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": active,
	})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
}

type chatResponse struct {
	ReplyText       string `json:"reply_text"`
	ShouldEnd       bool   `json:"should_end"`
	NeedsEscalation bool   `json:"needs_escalation"`
	ProactivePrompt bool   `json:"proactive_prompt"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "conversation_id is required")
		return
	}

	tr, err := s.orchestrator.HandleText(r.Context(), req.ConversationID, req.Text, domain.Language(req.Language))
	if s.writeOrchestratorError(w, err) {
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{
		ReplyText:       tr.ReplyText,
		ShouldEnd:       tr.ShouldEnd,
		NeedsEscalation: tr.NeedsEscalation,
		ProactivePrompt: tr.ProactivePrompt,
	})
}

// writeOrchestratorError maps an orchestrator error onto an HTTP status
// and writes the response. Reports whether it wrote anything (true
// means the caller should return without writing a success body).
func (s *Server) writeOrchestratorError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, orchestrator.ErrSessionTerminal):
		respondError(w, http.StatusConflict, "session_terminal", err.Error())
	case errors.Is(err, orchestrator.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		var orchErr *orchestrator.Error
		if errors.As(err, &orchErr) && orchErr.Kind == orchestrator.KindInternal {
			respondError(w, http.StatusInternalServerError, "internal_error", orchErr.Error())
			return true
		}
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
	return true
}

type voiceProcessRequest struct {
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language,omitempty"`
	AudioData      string `json:"audio_data"`
}

type voiceProcessResponse struct {
	ReplyText       string `json:"reply_text"`
	ReplyAudio      string `json:"reply_audio,omitempty"`
	ShouldEnd       bool   `json:"should_end"`
	NeedsEscalation bool   `json:"needs_escalation"`
}

// handleVoiceProcess runs one utterance fully synchronously: decode ->
// recognize -> understand/dispatch -> synthesize -> respond. There is
// no turn controller involved (no VAD, no silence timers) since the
// caller is expected to have already framed a single utterance.
func (s *Server) handleVoiceProcess(w http.ResponseWriter, r *http.Request) {
	var req voiceProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "conversation_id is required")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio_data must be base64")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.tcConfig.RecognizeTimeout)
	recStart := time.Now()
	text, err := s.recognizer.Transcribe(ctx, audio, domain.Language(req.Language))
	cancel()
	if s.metrics != nil {
		s.metrics.ObserveTurnStage("recognize", time.Since(recStart))
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "recognize_failed", err.Error())
		return
	}

	var tr *domain.TurnResult
	if text == "" {
		tr, err = s.orchestrator.HandleNoSpeech(r.Context(), req.ConversationID, domain.Language(req.Language))
	} else {
		tr, err = s.orchestrator.HandleText(r.Context(), req.ConversationID, text, domain.Language(req.Language))
	}
	if s.writeOrchestratorError(w, err) {
		return
	}

	resp := voiceProcessResponse{ReplyText: tr.ReplyText, ShouldEnd: tr.ShouldEnd, NeedsEscalation: tr.NeedsEscalation}
	if s.synthesizer != nil {
		synCtx, synCancel := context.WithTimeout(r.Context(), s.tcConfig.SynthesizeTimeout)
		synStart := time.Now()
		audioOut, synErr := s.synthesizer.Synthesize(synCtx, tr.ReplyText, domain.Language(req.Language))
		synCancel()
		if s.metrics != nil {
			s.metrics.ObserveTurnStage("synthesize", time.Since(synStart))
		}
		if synErr == nil {
			resp.ReplyAudio = base64.StdEncoding.EncodeToString(audioOut)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// telephonyResponse is a stand-in telephony instruction document: a
// minimal "say this, then gather audio at this URL" shape, not tied to
// any particular carrier's concrete schema.
type telephonyResponse struct {
	XMLName xml.Name       `xml:"Response"`
	Say     string         `xml:"Say"`
	Gather  telephonyGather `xml:"Gather"`
}

type telephonyGather struct {
	Input string `xml:"input,attr"`
	Action string `xml:"action,attr"`
}

func (s *Server) handleTelephonyVoice(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	callID := strings.TrimSpace(r.FormValue("CallSid"))
	if callID == "" {
		callID = uuid.NewString()
	}

	greeting := "Connecting you now."
	if s.orchestrator != nil {
		tr, err := s.orchestrator.HandleText(r.Context(), callID, "call started", domain.LanguageEN)
		if err == nil {
			greeting = tr.ReplyText
		}
	}

	resp := telephonyResponse{
		Say: greeting,
		Gather: telephonyGather{
			Input:  "speech",
			Action: "/telephony/media-stream-ws?call_id=" + url.QueryEscape(callID),
		},
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(resp)
}

// handleMediaStreamWS bridges a telephony media-stream connection to a
// per-call turncontroller.Controller: a reader goroutine feeds inbound
// binary audio frames to IngestChunk, a writer goroutine drains a
// bounded outbound queue of reply audio frames so a slow socket write
// never blocks the reader.
func (s *Server) handleMediaStreamWS(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.URL.Query().Get("call_id"))
	if callID == "" {
		callID = uuid.NewString()
	}
	lang := domain.Language(strings.TrimSpace(r.URL.Query().Get("language")))
	if lang == "" {
		lang = domain.LanguageEN
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctrl := turncontroller.New(callID, lang, s.orchestrator, s.recognizer, s.synthesizer, s.tcConfig)
	ctrl.Metrics = s.metrics
	if s.metrics != nil {
		s.metrics.ObserveSessionEvent("ws_connected")
	}

	outbound := make(chan []byte, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}()

	queue := func(audio []byte) {
		if len(audio) == 0 {
			return
		}
		select {
		case outbound <- audio:
			s.metrics.ObserveOutboundMessage("audio", "queued")
		default:
			// Keep the writer single-threaded; drop if it can't keep up.
			s.metrics.ObserveOutboundMessage("audio", "drop_full")
		}
	}

	ev, err := ctrl.Start(r.Context())
	if err == nil {
		queue(ev.ReplyAudio)
	}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		ev, err := ctrl.IngestChunk(r.Context(), data, time.Now())
		if err != nil {
			break
		}
		queue(ev.ReplyAudio)
		if ev.Dropped {
			_ = s.orchestrator.SyncDroppedChunks(r.Context(), callID, ctrl.DroppedChunks())
		}
		if ev.State == turncontroller.StateTerminal {
			break
		}
	}

	close(outbound)
	<-writerDone
	_ = s.orchestrator.SyncDroppedChunks(context.Background(), callID, ctrl.DroppedChunks())
	if s.metrics != nil {
		s.metrics.ObserveSessionEvent("ws_disconnected")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
