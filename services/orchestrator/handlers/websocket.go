// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
)

// =============================================================================
// Connection Handling
// =============================================================================

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

const wsWriteTimeout = 10 * time.Second

// wsAskRequest is one inbound ask message on the socket. The session
// is connection-scoped, so the message carries no session_id.
type wsAskRequest struct {
	Question string               `json:"question"`
	Language string               `json:"language,omitempty"`
	Profile  *datatypes.AskProfile `json:"profile,omitempty"`
}

// HandleAskWebSocket serves GET /v1/ws/ask.
//
// # Description
//
// The WebSocket mirror of the SSE stream. One connection is one
// session: the handler mints a session id, announces it with a
// session_created message, then answers each inbound question through
// the same pipeline the SSE endpoint uses. Every stream event goes out
// as one JSON message, hash-chained per turn exactly as over SSE.
//
// # Limitations
//
//   - Questions are answered one at a time; a message sent mid-stream
//     waits until the current turn finishes.
func (h *askHandler) HandleAskWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	sessionID := uuid.New().String()
	slog.Info("Websocket session started", "sessionId", sessionID)

	if err := ws.WriteJSON(map[string]any{
		"action":     "session_created",
		"session_id": sessionID,
	}); err != nil {
		slog.Warn("Failed to announce websocket session", "error", err)
		return
	}

	for {
		var msg wsAskRequest
		if err := ws.ReadJSON(&msg); err != nil {
			slog.Info("Websocket client disconnected",
				"sessionId", sessionID, "error", err.Error())
			return
		}

		req := datatypes.AskRequest{
			Question:  msg.Question,
			SessionId: sessionID,
			Language:  msg.Language,
			Profile:   msg.Profile,
		}
		// Each turn gets a fresh writer: the hash chain restarts per
		// turn, matching one SSE request per turn.
		writer := newWSWriter(ws)

		if err := req.Validate(); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointWebSocket, observability.ErrorCodeValidation)
			}
			_ = writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventError).
				WithError(err.Error()))
			continue
		}
		status, reason, auditID := h.gateRequest(c.Request.Context(), c, &req, "ws/ask")
		if status != 0 {
			_ = writer.WriteEvent(datatypes.NewStreamEvent(datatypes.EventError).
				WithError(reason))
			continue
		}

		h.streamAsk(c.Request.Context(), observability.EndpointWebSocket, &req, writer, auditID)
	}
}

// =============================================================================
// WebSocket Event Writer
// =============================================================================

// wsWriter implements EventWriter over a WebSocket connection. Each
// event is one JSON text message; keep-alives are protocol-level ping
// frames, invisible to the message stream.
type wsWriter struct {
	conn  *websocket.Conn
	chain eventChain
	mu    sync.Mutex
}

// Compile-time interface compliance check.
var _ EventWriter = (*wsWriter)(nil)

func newWSWriter(conn *websocket.Conn) *wsWriter {
	return &wsWriter{conn: conn}
}

// WriteEvent stamps the event into the hash chain and writes it as one
// JSON message.
func (w *wsWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chain.Stamp(&event)
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(event)
}

// WriteKeepAlive sends a ping control frame.
func (w *wsWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}
