package httpapi

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/config"
	"github.com/antoniostano/voiceassist/internal/observability"
	"github.com/antoniostano/voiceassist/internal/orchestrator"
	"github.com/antoniostano/voiceassist/internal/session"
	"github.com/antoniostano/voiceassist/internal/turncontroller"
)

func newTestServer() *Server {
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute}
	store := session.NewInMemoryStore(cfg.SessionInactivityTimeout)
	o := orchestrator.New(store, adapters.NewStubUnderstander(), adapters.NewStubDataClient(), adapters.NewStubHandoff(), orchestrator.Config{}, orchestrator.Hooks{})
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405.000000000"))
	return New(cfg, o, store, adapters.NewStubRecognizer(), adapters.NewStubSynthesizer(), metrics, turncontroller.Config{})
}

func TestHealthReportsActiveSessions(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", payload["status"])
	}
}

func TestChatHappyPath(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(chatRequest{ConversationID: "conv-http", Text: "pricing please", Language: "en"})
	res, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var resp chatResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ReplyText == "" {
		t.Fatalf("expected a non-empty reply")
	}
}

func TestChatRejectsMissingConversationID(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(chatRequest{Text: "hello"})
	res, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestChatRejectsTerminalSessionWithConflict(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(chatRequest{ConversationID: "conv-angry-http", Text: "this is terrible and unacceptable", Language: "en"})
	res, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	res.Body.Close()

	body, _ = json.Marshal(chatRequest{ConversationID: "conv-angry-http", Text: "hello again", Language: "en"})
	res, err = http.Post(ts.URL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second POST /chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestTelephonyVoiceReturnsXML(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/telephony/voice", "application/x-www-form-urlencoded", bytes.NewReader([]byte("CallSid=CA123")))
	if err != nil {
		t.Fatalf("POST /telephony/voice error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload struct {
		Say string `xml:"Say"`
	}
	if err := xml.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode xml: %v", err)
	}
	if payload.Say == "" {
		t.Fatalf("expected a non-empty Say instruction")
	}
}
