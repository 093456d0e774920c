package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/signlink/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// EventsHandler pushes view updates to websocket clients.
type EventsHandler struct {
	hub  *Hub
	view func() app.View
	log  *zap.Logger
}

// NewEventsHandler creates an EventsHandler. Every new client first receives
// a connection event and the current view.
func NewEventsHandler(hub *Hub, view func() app.View, log *zap.Logger) *EventsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventsHandler{hub: hub, view: view, log: log}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	now := time.Now()
	for _, event := range []any{
		ConnectionEvent{Event: newEvent("connection", now), Connected: true},
		newViewEvent(h.view(), now),
	} {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	// Reading detects the client going away; inbound messages are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
