package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/voiceassist/internal/adapters"
	"github.com/antoniostano/voiceassist/internal/config"
	"github.com/antoniostano/voiceassist/internal/httpapi"
	"github.com/antoniostano/voiceassist/internal/observability"
	"github.com/antoniostano/voiceassist/internal/orchestrator"
	"github.com/antoniostano/voiceassist/internal/session"
	"github.com/antoniostano/voiceassist/internal/turncontroller"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, closeStore, err := buildSessionStore(ctx, cfg)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer closeStore()

	understander := buildUnderstander(cfg)
	recognizer := buildRecognizer(cfg)
	synthesizer := buildSynthesizer(cfg)
	dataClient := buildDataClient(cfg)
	handoff := buildHandoff(cfg)

	o := orchestrator.New(store, understander, dataClient, handoff, orchestrator.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxRetry:            cfg.MaxRetry,
		MaxNoResponse:        cfg.MaxNoResponse,
		UnderstandTimeout:   cfg.UnderstandTimeout,
		DataTimeout:         cfg.DataTimeout,
		HandoffTimeout:      cfg.HandoffTimeout,
	}, orchestrator.Hooks{
		OnTurn:     metrics.ObserveTurnEvent,
		OnEscalate: metrics.ObserveEscalation,
	})
	o.Metrics = metrics

	tcConfig := turncontroller.Config{
		SilenceWindow:        cfg.SilenceWindow,
		EndOfUtteranceWindow: cfg.EndOfUtteranceWindow,
		RecognizeTimeout:     cfg.RecognizeTimeout,
		SynthesizeTimeout:    cfg.SynthesizeTimeout,
	}

	var memStore *session.InMemoryStore
	if ims, ok := store.(*session.InMemoryStore); ok {
		memStore = ims
	}

	api := httpapi.New(cfg, o, memStore, recognizer, synthesizer, metrics, tcConfig)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if memStore != nil {
		memStore.StartJanitor(runCtx, 30*time.Second)
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func buildSessionStore(ctx context.Context, cfg config.Config) (adapters.SessionStore, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("session store: in-memory")
		return session.NewInMemoryStore(cfg.SessionInactivityTimeout), func() {}, nil
	}
	pg, err := session.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("session store: postgres")
	return pg, pg.Close, nil
}

// buildUnderstander, buildRecognizer, buildSynthesizer, buildDataClient,
// and buildHandoff resolve each adapter by its configured provider name.
// "stub" is the only concrete implementation this deployment ships with
// out of the box; any other name falls back to the stub with a log
// line rather than failing startup, degrading gracefully instead of
// refusing to boot over a missing vendor integration.
func buildUnderstander(cfg config.Config) adapters.Understander {
	switch strings.ToLower(strings.TrimSpace(cfg.UnderstanderName)) {
	case "", "stub":
		return adapters.NewStubUnderstander()
	default:
		log.Printf("understander %q not recognized, falling back to stub", cfg.UnderstanderName)
		return adapters.NewStubUnderstander()
	}
}

func buildRecognizer(cfg config.Config) adapters.Recognizer {
	switch strings.ToLower(strings.TrimSpace(cfg.RecognizerName)) {
	case "", "stub":
		return adapters.NewStubRecognizer()
	default:
		log.Printf("recognizer %q not recognized, falling back to stub", cfg.RecognizerName)
		return adapters.NewStubRecognizer()
	}
}

func buildSynthesizer(cfg config.Config) adapters.Synthesizer {
	switch strings.ToLower(strings.TrimSpace(cfg.SynthesizerName)) {
	case "", "stub":
		return adapters.NewStubSynthesizer()
	default:
		log.Printf("synthesizer %q not recognized, falling back to stub", cfg.SynthesizerName)
		return adapters.NewStubSynthesizer()
	}
}

func buildDataClient(cfg config.Config) adapters.DataClient {
	switch strings.ToLower(strings.TrimSpace(cfg.DataClientName)) {
	case "", "stub":
		return adapters.NewStubDataClient()
	default:
		log.Printf("data client %q not recognized, falling back to stub", cfg.DataClientName)
		return adapters.NewStubDataClient()
	}
}

func buildHandoff(cfg config.Config) adapters.Handoff {
	switch strings.ToLower(strings.TrimSpace(cfg.HandoffName)) {
	case "", "stub":
		return adapters.NewStubHandoff()
	default:
		log.Printf("handoff %q not recognized, falling back to stub", cfg.HandoffName)
		return adapters.NewStubHandoff()
	}
}
