package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fetchqueue/internal/scheduler"
	"fetchqueue/internal/tasks"
)

type addTasksRequest struct {
	Tasks   []scheduler.TaskSpec `json:"tasks"`
	Enqueue bool                 `json:"enqueue"`
}

type addTasksResponse struct {
	Created []tasks.Task `json:"created"`
}

// idsRequest addresses a batch command: explicit ids, the current selection,
// or both.
type idsRequest struct {
	IDs          []string `json:"ids"`
	UseSelection bool     `json:"use_selection"`
}

type concurrencyRequest struct {
	MaxConcurrent int `json:"max_concurrent"`
}

func (s *Server) handleAddTasks(w http.ResponseWriter, r *http.Request) {
	var req addTasksRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Tasks) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "tasks is required")
		return
	}
	created := s.sched.Add(req.Tasks, req.Enqueue)
	if len(created) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "no valid task specs")
		return
	}
	respondJSON(w, http.StatusCreated, addTasksResponse{Created: created})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := strings.TrimSpace(r.URL.Query().Get("status"))
	var pred func(tasks.Task) bool
	if filter != "" {
		status := tasks.Status(strings.ToLower(filter))
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "invalid_status", "unknown status filter")
			return
		}
		pred = func(t tasks.Task) bool { return t.Status == status }
	}
	respondJSON(w, http.StatusOK, s.store.List(pred))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	task, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "task_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.resolveIDs(w, r)
	if !ok {
		return
	}
	added := s.sched.Enqueue(ids...)
	respondJSON(w, http.StatusOK, map[string]any{"enqueued": added})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.resolveIDs(w, r)
	if !ok {
		return
	}
	s.sched.Pause(ids...)
	respondJSON(w, http.StatusOK, map[string]any{"paused": len(ids)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.resolveIDs(w, r)
	if !ok {
		return
	}
	s.sched.Cancel(ids...)
	respondJSON(w, http.StatusOK, map[string]any{"cancelled": len(ids)})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.resolveIDs(w, r)
	if !ok {
		return
	}
	s.sched.Retry(ids...)
	respondJSON(w, http.StatusOK, map[string]any{"retried": len(ids)})
}

func (s *Server) handleDeleteTasks(w http.ResponseWriter, r *http.Request) {
	ids, ok := s.resolveIDs(w, r)
	if !ok {
		return
	}
	removed := s.sched.Delete(ids...)
	respondJSON(w, http.StatusOK, map[string]any{"deleted": removed})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) handleSetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sched.SetMaxConcurrent(req.MaxConcurrent); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_concurrency", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"max_concurrent": s.sched.MaxConcurrent()})
}

func (s *Server) handleGetSelection(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ids": s.sched.Selection().IDs()})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "ids is required")
		return
	}
	s.sched.Selection().Select(req.IDs...)
	respondJSON(w, http.StatusOK, map[string]any{"ids": s.sched.Selection().IDs()})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	err := decodeJSON(r, &req)
	if err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		s.sched.Selection().Clear()
	} else {
		s.sched.Selection().Deselect(req.IDs...)
	}
	respondJSON(w, http.StatusOK, map[string]any{"ids": s.sched.Selection().IDs()})
}

func (s *Server) resolveIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return nil, false
	}
	ids := make([]string, 0, len(req.IDs))
	seen := make(map[string]struct{}, len(req.IDs))
	appendID := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range req.IDs {
		appendID(id)
	}
	if req.UseSelection {
		for _, id := range s.sched.Selection().IDs() {
			appendID(id)
		}
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "no task ids given")
		return nil, false
	}
	return ids, true
}
