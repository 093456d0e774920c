package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/signlink/internal/app"
	"github.com/ayusman/signlink/internal/session"
	"github.com/ayusman/signlink/internal/translate"
)

// SessionHandler serves the read-only session views.
type SessionHandler struct {
	ctrl Controller
}

// NewSessionHandler creates a new SessionHandler reading from ctrl.
func NewSessionHandler(ctrl Controller) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

type historyResponse struct {
	SessionID string                 `json:"session_id"`
	History   []session.HistoryEntry `json:"history"`
}

type servicesResponse struct {
	Services []app.ServiceHealth `json:"services"`
	Healthy  bool                `json:"healthy"`
}

// ServeHTTP routes /api/session, /api/session/context, /api/history and
// /api/services/health.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/api/session":
		writeJSON(w, http.StatusOK, h.ctrl.View())
	case "/api/session/context":
		h.context(w, r)
	case "/api/history":
		v := h.ctrl.View()
		writeJSON(w, http.StatusOK, historyResponse{SessionID: v.SessionID, History: v.History})
	case "/api/services/health":
		h.services(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// services handles GET /api/services/health. It answers 200 even when a
// service is down; the body says which.
func (h *SessionHandler) services(w http.ResponseWriter, r *http.Request) {
	results := h.ctrl.Health(r.Context())

	healthy := true
	for _, res := range results {
		if res.Error != "" {
			healthy = false
		}
	}
	writeJSON(w, http.StatusOK, servicesResponse{Services: results, Healthy: healthy})
}

// context handles GET /api/session/context. A session the translation
// service has not seen yet is a 404 from the service and is passed through.
func (h *SessionHandler) context(w http.ResponseWriter, r *http.Request) {
	sc, err := h.ctrl.RemoteContext(r.Context())
	if err != nil {
		var reqErr *translate.RequestError
		switch {
		case errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound:
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &reqErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sc)
}
