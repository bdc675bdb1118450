package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/metrics"
	"github.com/chatshell/streamcore/internal/ratelimit"
	"github.com/chatshell/streamcore/internal/streaming"
)

// handleStreamEvents serves `GET /streams/{id}/events?offset=N` as an SSE
// stream, the primary transport named in SPEC_FULL §6.1. ?transport=ws
// upgrades to the WebSocket alternative in websocket.go instead.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(ratelimit.ClientIP(r)) {
		metrics.RecordRateLimitRejection("connect")
		writeError(w, http.StatusTooManyRequests, "too many connection attempts")
		return
	}

	streamID := r.PathValue("id")
	if r.URL.Query().Get("transport") == "ws" {
		s.handleWebSocket(w, r, streamID)
		return
	}

	offset, err := parseOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := userFromContext(r)
	var resumeFrom *uint64
	if r.URL.Query().Get("offset") != "" {
		resumeFrom = &offset
	}

	conn, err := s.core.ConnectClient(streamID, "", resumeFrom, map[string]any{"user_id": userID})
	if err != nil {
		if errors.Is(err, streaming.ErrStreamCompleted) {
			s.handleTerminalReplay(w, streamID, offset)
			return
		}
		writeStreamError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	messages, err := s.core.Events(r.Context(), conn.ClientID)
	if err != nil {
		s.logger.Error("event generator", zap.String("stream_id", streamID), zap.Error(err))
		return
	}

	for msg := range messages {
		if _, err := w.Write([]byte(msg)); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleTerminalReplay serves the 200 branch of spec §6.2's terminal-stream
// split: a stream ConnectClient rejected as terminal still gets a read-only
// replay of whatever its buffer covers from offset, written once and closed,
// rather than the 410 Core.ReplayTerminal returns when the buffer no longer
// covers offset at all.
func (s *Server) handleTerminalReplay(w http.ResponseWriter, streamID string, offset uint64) {
	events, err := s.core.ReplayTerminal(streamID, offset)
	if err != nil {
		writeStreamError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range events {
		msg, err := streaming.RenderEvent(ev)
		if err != nil {
			s.logger.Error("render terminal replay", zap.String("stream_id", streamID), zap.Error(err))
			return
		}
		if _, err := w.Write([]byte(msg)); err != nil {
			return
		}
		flusher.Flush()
	}
}
