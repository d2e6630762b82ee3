// Package httpapi exposes the chat/command boundary and the
// notification push channel. Authentication is an external concern: the
// fronting layer is trusted to set the owner identity header.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/gmarchetti/donna/internal/config"
	"github.com/gmarchetti/donna/internal/conversation"
	"github.com/gmarchetti/donna/internal/notify"
	"github.com/gmarchetti/donna/internal/observability"
	"github.com/gmarchetti/donna/internal/tasks"
)

const ownerHeader = "X-Owner-ID"

type Server struct {
	cfg        config.Config
	manager    *conversation.Manager
	executor   *tasks.Executor
	dispatcher *notify.Dispatcher
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, manager *conversation.Manager, executor *tasks.Executor, dispatcher *notify.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		manager:    manager,
		executor:   executor,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
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

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func ownerID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ownerHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("owner_id"))
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

// respondCommandError maps executor errors onto stable status codes
// without leaking storage internals.
func respondCommandError(w http.ResponseWriter, err error) {
	var verr *tasks.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "invalid_request", verr.Error())
	case errors.Is(err, tasks.ErrNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", "task not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal", "something went wrong")
	}
}

// respondChatError maps manager errors onto stable status codes. Only
// input validation is the caller's fault; storage or planner failures
// come back as a generic 500 so backend details never reach the client.
func respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrMissingOwner),
		errors.Is(err, conversation.ErrMissingInstruction):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", "something went wrong")
	}
}
