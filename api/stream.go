package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/e7canasta/antiprimes"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write websocket JSON", "component", "api", "error", err)
	}
	return err
}

// stream pushes one JSON Event per append until the client disconnects or
// the request context ends. Events the client is too slow for are dropped.
func (s *Server) stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "component", "api", "error", err)
		return
	}
	defer ws.Close()

	sessionID := "ws-" + uuid.New().String()
	log := slog.With("component", "api", "session_id", sessionID)

	events := make(chan antiprimes.Event, s.opts.SubscriberBuffer)
	if err := s.seq.Subscribe(sessionID, events); err != nil {
		log.Warn("stream subscription refused", "error", err)
		_ = sendJSON(ws, gin.H{"action": "error", "error": err.Error()})
		return
	}
	defer func() { _ = s.seq.Unsubscribe(sessionID) }()

	log.Info("stream session started")
	defer log.Info("stream session ended")

	items, err := s.seq.LastK(s.opts.HistoryWindow)
	if err != nil {
		log.Warn("stream history unavailable", "error", err)
		_ = sendJSON(ws, gin.H{"action": "error", "error": err.Error()})
		return
	}
	if err := sendJSON(ws, gin.H{
		"action":     "session_created",
		"session_id": sessionID,
		"epoch":      s.seq.Epoch(),
		"items":      items,
	}); err != nil {
		return
	}

	// Reader: only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case ev := <-events:
			if err := sendJSON(ws, ev); err != nil {
				return
			}
		}
	}
}
