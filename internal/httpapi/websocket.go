package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader accepts any origin: this endpoint is an opt-in secondary
// transport for the same read-only event stream SSE already serves, gated
// by the same ConnectLimiter and auth middleware as the SSE path.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket serves the same event stream as handleStreamEvents, but
// framed as JSON text messages over a WebSocket instead of SSE lines,
// grounded on SPEC_FULL §11's note that this is a secondary, opt-in
// transport (`?transport=ws`) exercising gorilla/websocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, streamID string) {
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
		writeStreamError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("stream_id", streamID), zap.Error(err))
		return
	}
	defer ws.Close()

	messages, err := s.core.Events(r.Context(), conn.ClientID)
	if err != nil {
		s.logger.Error("event generator", zap.String("stream_id", streamID), zap.Error(err))
		return
	}

	ws.SetReadDeadline(time.Now().Add(24 * time.Hour))
	go drainClientReads(ws)

	for msg := range messages {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// drainClientReads discards inbound frames: this transport is read-only
// from the client's perspective, but the connection must still be read to
// observe client-initiated close frames.
func drainClientReads(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
