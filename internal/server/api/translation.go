// Package api provides the HTTP handlers of the local control API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/signlink/internal/app"
	"github.com/ayusman/signlink/internal/session"
	"github.com/ayusman/signlink/internal/translate"
)

// Controller is the translation session the handlers drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	ProcessSigns(ctx context.Context) (string, error)
	Clear(ctx context.Context) string
	View() app.View
	Health(ctx context.Context) []app.ServiceHealth
	RemoteContext(ctx context.Context) (*translate.SessionContext, error)
}

// TranslationHandler handles the session lifecycle commands.
type TranslationHandler struct {
	ctrl Controller
}

// NewTranslationHandler creates a new TranslationHandler driving ctrl.
func NewTranslationHandler(ctrl Controller) *TranslationHandler {
	return &TranslationHandler{ctrl: ctrl}
}

// ServeHTTP routes /api/translation/{start,stop,process,clear}.
func (h *TranslationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/translation/")
	switch action {
	case "start":
		h.start(w, r)
	case "stop":
		h.stop(w, r)
	case "process":
		h.process(w, r)
	case "clear":
		h.clear(w, r)
	default:
		writeError(w, http.StatusNotFound, "Unknown command")
	}
}

type processResponse struct {
	Translation string   `json:"translation"`
	Processed   bool     `json:"processed"`
	View        app.View `json:"view"`
}

type clearResponse struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// start handles POST /api/translation/start.
func (h *TranslationHandler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Start(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.View())
}

// stop handles POST /api/translation/stop.
func (h *TranslationHandler) stop(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop()
	writeJSON(w, http.StatusOK, h.ctrl.View())
}

// process handles POST /api/translation/process.
func (h *TranslationHandler) process(w http.ResponseWriter, r *http.Request) {
	translation, err := h.ctrl.ProcessSigns(r.Context())
	if err != nil {
		var reqErr *translate.RequestError
		switch {
		case errors.Is(err, session.ErrSessionChanged):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &reqErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Translation: translation,
		View:        h.ctrl.View(),
		Processed:   translation != "",
	})
}

// clear handles POST /api/translation/clear.
func (h *TranslationHandler) clear(w http.ResponseWriter, r *http.Request) {
	id := h.ctrl.Clear(r.Context())
	writeJSON(w, http.StatusOK, clearResponse{SessionID: id})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
