// Package httpapi exposes the chat relay over REST and websocket.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vetai-labs/vetai/internal/config"
	"github.com/vetai-labs/vetai/internal/facts"
	"github.com/vetai-labs/vetai/internal/llm"
	"github.com/vetai-labs/vetai/internal/observability"
	"github.com/vetai-labs/vetai/internal/session"
	"github.com/vetai-labs/vetai/internal/store"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	store    store.Store
	brain    llm.Adapter
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, st store.Store, brain llm.Adapter, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    st,
		brain:    brain,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// often omit Origin; allow them.
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

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Get("/v1/memory", s.handleGetMemory)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	conv := store.Conversation{
		ID:     uuid.NewString(),
		Title:  store.DefaultTitle,
		Memory: facts.FactSet{},
	}
	if err := s.store.CreateConversation(r.Context(), userID, conv); err != nil {
		log.Printf("httpapi: create conversation: %v", err)
		respondError(w, http.StatusInternalServerError, "create conversation failed")
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	convs, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		log.Printf("httpapi: list conversations: %v", err)
		respondError(w, http.StatusInternalServerError, "list conversations failed")
		return
	}

	type summary struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		LastMessage string `json:"last_message"`
		UpdatedAt   string `json:"updated_at"`
	}
	out := make([]summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, summary{
			ID:          c.ID,
			Title:       c.Title,
			LastMessage: c.LastMessage,
			UpdatedAt:   c.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	conv, err := s.store.Conversation(r.Context(), userID, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		log.Printf("httpapi: get conversation: %v", err)
		respondError(w, http.StatusInternalServerError, "get conversation failed")
		return
	}

	// Legacy documents may carry unstripped fact blocks; strip on read.
	for i, m := range conv.Messages {
		if m.Role == store.RoleAssistant {
			conv.Messages[i].Content = facts.DisplayText(m.Content)
		}
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	memory, err := s.store.GlobalMemory(r.Context(), userID)
	if err != nil {
		log.Printf("httpapi: get global memory: %v", err)
		respondError(w, http.StatusInternalServerError, "get memory failed")
		return
	}
	respondJSON(w, http.StatusOK, memory)
}

// userID resolves the caller identity. Authentication is handled upstream;
// the relay trusts the injected header (or query value for websocket
// clients that cannot set headers).
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing user id")
		return "", false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"error": detail})
}
