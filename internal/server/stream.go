package server

import (
	"fmt"
	"net/http"
	"time"
)

const previewInterval = 66 * time.Millisecond // ~15 FPS

// FrameEncoder produces JPEG stills of the capture source.
type FrameEncoder interface {
	EncodeFrame() ([]byte, bool)
}

// StreamHandler serves an MJPEG preview of the capture source.
type StreamHandler struct {
	source   FrameEncoder
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler over source.
func NewStreamHandler(source FrameEncoder) *StreamHandler {
	return &StreamHandler{source: source, interval: previewInterval}
}

// ServeHTTP streams MJPEG frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if jpeg, ok := h.source.EncodeFrame(); ok {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
			if _, err := w.Write(jpeg); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
