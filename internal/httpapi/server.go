package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"fetchqueue/internal/config"
	"fetchqueue/internal/observability"
	"fetchqueue/internal/scheduler"
	"fetchqueue/internal/tasks"
)

// Server exposes the orchestrator to the presentation layer: queries,
// commands, and a websocket change-notification feed.
type Server struct {
	cfg      config.Config
	sched    *scheduler.Scheduler
	store    *tasks.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sched *scheduler.Scheduler, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		sched:   sched,
		store:   sched.Store(),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; this tool usually
				// lives on localhost.
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

	r.Post("/v1/tasks", s.handleAddTasks)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Delete("/v1/tasks", s.handleDeleteTasks)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Post("/v1/tasks/enqueue", s.handleEnqueue)
	r.Post("/v1/tasks/pause", s.handlePause)
	r.Post("/v1/tasks/cancel", s.handleCancel)
	r.Post("/v1/tasks/retry", s.handleRetry)
	r.Get("/v1/stats", s.handleStats)
	r.Put("/v1/config/concurrency", s.handleSetConcurrency)
	r.Get("/v1/selection", s.handleGetSelection)
	r.Post("/v1/selection", s.handleSelect)
	r.Delete("/v1/selection", s.handleClearSelection)
	r.Get("/v1/updates", s.handleUpdatesWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tasks":  s.store.Len(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"max_concurrent": s.sched.MaxConcurrent(),
	})
}

// handleUpdatesWS streams one message per applied mutation batch. Slow
// readers miss intermediate revisions, never the latest state: every message
// carries fresh stats, and the task list is re-fetched by the client.
func (s *Server) handleUpdatesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	notes, unsubscribe := s.sched.Subscribe()
	defer unsubscribe()

	// Reader goroutine only surfaces disconnects; the feed is one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 10)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(note); err != nil {
				return
			}
		}
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
