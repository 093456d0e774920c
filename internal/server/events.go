package server

import (
	"time"

	"github.com/ayusman/signlink/internal/app"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ViewEvent carries a full view so clients never have to merge deltas.
type ViewEvent struct {
	Event
	View app.View `json:"view"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newViewEvent(v app.View, now time.Time) ViewEvent {
	return ViewEvent{Event: newEvent("view", now), View: v}
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
