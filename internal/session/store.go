// Package session holds the in-memory state of a sign translation session.
//
// A Store is the single writer of that state. Collaborators receive a handle
// to it and mutate it only through its methods; readers get copies.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionChanged is returned by CommitTranslation when the session was
// cleared while the translation was in flight.
var ErrSessionChanged = errors.New("session changed during translation")

// HistoryEntry is one completed translation. Entries are never modified after
// they are appended.
type HistoryEntry struct {
	Signs       []string `json:"signs"`
	Translation string   `json:"translation"`
	Timestamp   int64    `json:"timestamp"`
}

// Detection is a recognized sign reported by the detection service.
type Detection struct {
	Sign       string
	Confidence float64
	// FrameTimestamp echoes the epoch-ms timestamp of the frame that produced
	// the detection, or 0 when unknown.
	FrameTimestamp int64
	// SessionID is set when the service tagged the detection with a session.
	SessionID string
}

// Snapshot is a copy of the store state for presentation.
type Snapshot struct {
	SessionID        string         `json:"session_id"`
	Translating      bool           `json:"translating"`
	AccumulatedSigns []string       `json:"accumulated_signs"`
	DetectedSigns    []string       `json:"detected_signs"`
	LastSign         string         `json:"last_sign"`
	Confidence       float64        `json:"confidence"`
	CurrentSentence  string         `json:"current_sentence"`
	History          []HistoryEntry `json:"history"`
}

// Store is the tab-lifetime session state.
type Store struct {
	mu          sync.Mutex
	sessionID   string
	epoch       int64
	translating bool
	accumulated []string
	detected    []string
	lastSign    string
	confidence  float64
	sentence    string
	history     []HistoryEntry

	listeners map[int]func(Snapshot)
	nextID    int
	now       func() time.Time
}

// NewStore creates a store with a fresh session identifier.
func NewStore() *Store {
	s := &Store{
		listeners: make(map[int]func(Snapshot)),
		now:       time.Now,
	}
	s.sessionID = newSessionID()
	s.epoch = s.now().UnixMilli()
	return s
}

func newSessionID() string {
	return "session-" + uuid.NewString()
}

// SessionID returns the current session identifier. It is never empty.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// StartTranslation marks the capture loop as expected to run.
func (s *Store) StartTranslation() {
	s.update(func() { s.translating = true })
}

// StopTranslation marks the capture loop as expected to be stopped.
func (s *Store) StopTranslation() {
	s.update(func() { s.translating = false })
}

// IsTranslating reports the translating flag.
func (s *Store) IsTranslating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.translating
}

// RecordDetection applies an inbound detection. The latest sign and confidence
// are always updated; the sign is appended to the accumulated buffer and the
// detected-sign log only when it differs from the last accumulated sign.
// Detections tagged with another session, or produced by frames captured
// before the last Clear, are dropped. It reports whether the sign was appended.
func (s *Store) RecordDetection(d Detection) bool {
	if d.Sign == "" {
		return false
	}

	var appended bool
	s.update(func() {
		if d.SessionID != "" && d.SessionID != s.sessionID {
			return
		}
		if d.FrameTimestamp > 0 && d.FrameTimestamp < s.epoch {
			return
		}

		s.lastSign = d.Sign
		s.confidence = d.Confidence

		if n := len(s.accumulated); n > 0 && s.accumulated[n-1] == d.Sign {
			return
		}
		s.accumulated = append(s.accumulated, d.Sign)
		s.detected = append(s.detected, d.Sign)
		appended = true
	})
	return appended
}

// AccumulatedSigns returns a copy of the signs awaiting translation.
func (s *Store) AccumulatedSigns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneStrings(s.accumulated)
}

// CommitTranslation records a successful translation of signs for sessionID.
// It replaces the current sentence, appends a history entry with a copy of
// signs, and empties the accumulated-signs buffer.
func (s *Store) CommitTranslation(sessionID string, signs []string, translation string, timestamp int64) error {
	var err error
	s.update(func() {
		if sessionID != s.sessionID {
			err = ErrSessionChanged
			return
		}

		s.sentence = translation
		s.history = append(s.history, HistoryEntry{
			Signs:       cloneStrings(signs),
			Translation: translation,
			Timestamp:   timestamp,
		})
		s.accumulated = nil
	})
	return err
}

// Clear resets the session: a new identifier is issued and the accumulated
// signs, detected-sign log, last sign, confidence and sentence are emptied.
// History and the translating flag are kept.
func (s *Store) Clear() string {
	var id string
	s.update(func() {
		s.sessionID = newSessionID()
		s.epoch = s.now().UnixMilli()
		s.accumulated = nil
		s.detected = nil
		s.lastSign = ""
		s.confidence = 0
		s.sentence = ""
		id = s.sessionID
	})
	return id
}

// CurrentSentence returns the most recent translation.
func (s *Store) CurrentSentence() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentence
}

// History returns a copy of the translation history.
func (s *Store) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHistory(s.history)
}

// Snapshot returns a copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change.
// fn runs on the mutating goroutine and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// update applies fn under the lock and notifies listeners outside it.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:        s.sessionID,
		Translating:      s.translating,
		AccumulatedSigns: cloneStrings(s.accumulated),
		DetectedSigns:    cloneStrings(s.detected),
		LastSign:         s.lastSign,
		Confidence:       s.confidence,
		CurrentSentence:  s.sentence,
		History:          cloneHistory(s.history),
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneHistory(in []HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(in))
	for i, e := range in {
		out[i] = HistoryEntry{Signs: cloneStrings(e.Signs), Translation: e.Translation, Timestamp: e.Timestamp}
	}
	return out
}
