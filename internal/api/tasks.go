package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

const maxListLimit = 500

type submitTaskRequest struct {
	TargetName string `json:"target_name"`
	TaskType   string `json:"task_type"`
	NeedsLogin *bool  `json:"needs_login"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target := strings.TrimSpace(req.TargetName)
	if target == "" {
		writeError(w, http.StatusBadRequest, "target_name required")
		return
	}
	taskType := taskqueue.TaskType(strings.ToUpper(strings.TrimSpace(req.TaskType)))
	if !taskType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown task_type")
		return
	}
	needsLogin := true
	if req.NeedsLogin != nil {
		needsLogin = *req.NeedsLogin
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate task id")
		return
	}
	task := taskqueue.NewTask(id, target, taskType, needsLogin, s.deps.Clock.Now())
	if err := s.deps.Tasks.Create(r.Context(), task); err != nil {
		s.logger.Error("create task failed", zap.String("task_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	s.logger.Info("task submitted",
		zap.String("task_id", id),
		zap.String("task_type", string(taskType)),
		zap.Bool("needs_login", needsLogin),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.deps.Tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := taskqueue.TaskFilter{Limit: 100}
	if raw := q.Get("status"); raw != "" {
		status := taskqueue.TaskStatus(strings.ToUpper(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		filter.Status = status
	}
	var ok bool
	if filter.Limit, ok = intParam(q.Get("limit"), filter.Limit); !ok || filter.Limit <= 0 || filter.Limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	if filter.Offset, ok = intParam(q.Get("offset"), 0); !ok || filter.Offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	tasks, err := s.deps.Tasks.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "limit": filter.Limit, "offset": filter.Offset})
}

func intParam(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
