// Package httpapi exposes the Streaming Core over HTTP: SSE as the primary
// transport for `/streams/{id}/events`, status/recovery/cancel endpoints,
// and task submission, per SPEC_FULL §6.1/§6.2.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/auth"
	"github.com/chatshell/streamcore/internal/ratelimit"
	"github.com/chatshell/streamcore/internal/store/postgres"
	"github.com/chatshell/streamcore/internal/streaming"
	"github.com/chatshell/streamcore/internal/taskqueue"
)

// Server wires the Streaming Core, Task store, and Task Queue behind
// net/http handlers, grounded on internal/health/http.go's ServeMux +
// writeError pattern (no second router dependency, per
// SPEC_FULL §11's note on gorilla/mux being dropped).
type Server struct {
	core    *streaming.Core
	tasks   *postgres.TaskStore
	queue   *taskqueue.Queue
	limiter *ratelimit.ConnectLimiter
	logger  *zap.Logger
}

// NewServer builds a Server.
func NewServer(core *streaming.Core, tasks *postgres.TaskStore, queue *taskqueue.Queue, limiter *ratelimit.ConnectLimiter, logger *zap.Logger) *Server {
	return &Server{core: core, tasks: tasks, queue: queue, limiter: limiter, logger: logger}
}

// RegisterRoutes wires every endpoint into mux. Handlers are registered
// with Go 1.22's method+path ServeMux patterns.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /task", s.handleCreateTask)
	mux.HandleFunc("GET /streams/{id}", s.handleStreamStatus)
	mux.HandleFunc("GET /streams/{id}/events", s.handleStreamEvents)
	mux.HandleFunc("GET /streams/{id}/recovery", s.handleRecovery)
	mux.HandleFunc("POST /streams/{id}/cancel", s.handleCancel)
}

// createTaskRequest is the POST /task body.
type createTaskRequest struct {
	SessionID string         `json:"session_id"`
	BotName   string         `json:"bot_name,omitempty"`
	Input     string         `json:"input"`
	Spec      map[string]any `json:"spec,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Input == "" {
		writeError(w, http.StatusBadRequest, "session_id and input are required")
		return
	}

	spec := postgres.JSONB{}
	for k, v := range req.Spec {
		spec[k] = v
	}
	spec["input"] = req.Input
	if req.BotName != "" {
		spec["bot_name"] = req.BotName
	}

	taskID := uuid.NewString()
	task, err := s.tasks.Create(r.Context(), taskID, req.SessionID, req.BotName, spec)
	if err != nil {
		s.logger.Error("create task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	s.queue.Enqueue(task.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": task.ID, "status": task.Status})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	status, err := s.core.GetStreamStatus(streamID)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id":      streamID,
		"status":         status.Status,
		"current_offset": status.CurrentOffset,
		"client_count":   status.ClientCount,
		"buffer": map[string]any{
			"size":       status.Buffer.Size,
			"max_size":   status.Buffer.MaxSize,
			"min_offset": status.Buffer.MinOffset,
			"max_offset": status.Buffer.MaxOffset,
		},
	})
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	offset, err := parseOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := s.core.GetRecoveryInfo(streamID, offset)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":        info.Active,
		"has_exact":     info.Coverage.HasExact,
		"min_available": info.Coverage.MinAvailable,
		"max_available": info.Coverage.MaxAvailable,
		"can_recover":   info.Coverage.CanRecover,
		"missing_count": info.Coverage.MissingCount,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "client requested cancel"
	}
	if err := s.core.CancelStream(streamID, reason); err != nil {
		writeStreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stream_id": streamID, "status": "cancelling"})
}

var errInvalidOffset = errors.New("offset must be a non-negative integer")

func parseOffset(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errInvalidOffset
	}
	return offset, nil
}

func writeStreamError(w http.ResponseWriter, err error) {
	switch err {
	case streaming.ErrStreamNotFound:
		writeError(w, http.StatusNotFound, "stream not found")
	case streaming.ErrStreamCompleted:
		writeError(w, http.StatusGone, "stream is terminal")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message, "timestamp": time.Now().Unix()})
}

// userFromContext extracts the authenticated caller, if any, defaulting to
// an empty identity for skip-auth/dev-mode requests.
func userFromContext(r *http.Request) (userID, role string) {
	uc, ok := r.Context().Value(auth.UserContextKey).(*auth.UserContext)
	if !ok || uc == nil {
		return "", ""
	}
	return uc.UserID.String(), uc.Role
}
