package detection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockService is an in-process stand-in for the detection service. It
// accepts websocket clients, records every message they send, and lets tests
// push messages back or close the connection from the server side.
type MockService struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	conns    int
	received []Envelope
}

// NewMockService starts a mock detection service on a loopback port.
func NewMockService() *MockService {
	s := &MockService{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *MockService) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.conns++
	s.mu.Unlock()

	defer conn.Close()
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
	}
}

// URL returns the websocket URL of the service.
func (s *MockService) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Connections returns how many clients have connected so far.
func (s *MockService) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Received returns a copy of every message received.
func (s *MockService) Received() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.received...)
}

// Commands returns the actions of the command messages received, in order.
func (s *MockService) Commands() []CommandPayload {
	var out []CommandPayload
	for _, env := range s.Received() {
		if env.Type != TypeCommand {
			continue
		}
		var p CommandPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Frames returns the frame messages received, in order.
func (s *MockService) Frames() []FramePayload {
	var out []FramePayload
	for _, env := range s.Received() {
		if env.Type != TypeFrame {
			continue
		}
		var p FramePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Send writes v as JSON to the most recent client.
func (s *MockService) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes a text message to the most recent client.
func (s *MockService) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// SendDetection pushes a detection of sign to the most recent client.
func (s *MockService) SendDetection(sign string, confidence float64) error {
	return s.Send(map[string]any{
		"type": TypeDetection,
		"payload": map[string]any{
			"sign":          sign,
			"confidence":    confidence,
			"hand_detected": true,
		},
	})
}

// CloseClient performs a normal close of the most recent client connection.
func (s *MockService) CloseClient() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	s.conn = nil
	return err
}

// Close shuts the service down.
func (s *MockService) Close() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	s.server.Close()
}
