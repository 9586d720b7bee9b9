package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vetai-labs/vetai/internal/config"
	"github.com/vetai-labs/vetai/internal/httpapi"
	"github.com/vetai-labs/vetai/internal/llm"
	"github.com/vetai-labs/vetai/internal/observability"
	"github.com/vetai-labs/vetai/internal/session"
	"github.com/vetai-labs/vetai/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	docStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer docStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("store: postgres")
	}

	brain, err := llm.NewAdapter(llm.Config{
		Mode:       cfg.LLMAdapterMode,
		APIURL:     cfg.OpenAIAPIURL,
		APIKey:     cfg.OpenAIAPIKey,
		ChatModel:  cfg.OpenAIModel,
		TitleModel: cfg.TitleModel,
	})
	if err != nil {
		log.Fatalf("llm adapter init failed: %v", err)
	}
	if _, ok := brain.(*llm.MockAdapter); ok {
		log.Printf("llm adapter: mock (no OPENAI_API_KEY)")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		if s.Controller == nil {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Controller.Flush(flushCtx); err != nil {
			log.Printf("session %s expire flush: %v", s.ID, err)
		}
	})

	api := httpapi.New(cfg, sessions, docStore, brain, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 30*time.Second)

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
