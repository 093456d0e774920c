package detection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/signlink/internal/session"
)

// DefaultURL is the detection service endpoint.
const DefaultURL = "ws://localhost:8001/ws/sign-detection"

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
	closeGracePeriod        = time.Second
)

// Status is the connection state. Exactly one holds at a time.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// TransportError wraps a failure of the underlying websocket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "detection transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SessionSink is the part of the session store the manager writes to.
type SessionSink interface {
	SessionID() string
	RecordDetection(d session.Detection) bool
}

// Config holds the connection manager configuration.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Manager owns at most one websocket connection to the detection service.
//
// Lifecycle: Disconnected -> Connecting -> Connected -> Disconnected, with
// Error reachable from Connecting or Connected on transport failure. Error is
// always followed by Disconnected; Err keeps the cause until the next Connect.
type Manager struct {
	url    string
	dialer *websocket.Dialer
	sink   SessionSink
	log    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	gen     uint64
	lastErr error
	last    *Inbound

	onStatus []func(Status)
	onClose  []func()

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a disconnected manager that reports detections to sink.
func NewManager(cfg Config, sink SessionSink) *Manager {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		sink:   sink,
		log:    cfg.Logger.Named("detection"),
		status: StatusDisconnected,
	}
}

// OnStatus registers fn to be called after every status transition.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = append(m.onStatus, fn)
}

// OnClose registers fn to be called whenever the connection goes away,
// whether closed locally, by the server, or by a transport failure.
func (m *Manager) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsOpen reports whether messages can be sent.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusConnected && m.conn != nil
}

// Err returns the last transport error, cleared by Connect.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// LastMessage returns the most recent command acknowledgement or service
// error.
func (m *Manager) LastMessage() (Inbound, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Inbound{}, false
	}
	return *m.last, true
}

// Connect opens the connection and sends the start command for the current
// session. It is a no-op while connecting or connected, so at most one
// connection exists. It blocks until the handshake completes or fails.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.lastErr = nil
	m.status = StatusConnecting
	m.mu.Unlock()
	m.emitStatus(StatusConnecting)

	m.log.Debug("connecting", zap.String("url", m.url))
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		m.fail(gen, nil, terr)
		return terr
	}

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect ran while the handshake was in flight.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	// start must reach the service before any frame, so the connection is
	// only reported open once it is written.
	if err := m.write(conn, commandMessage(ActionStart, m.sink.SessionID())); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		m.fail(gen, conn, terr)
		return terr
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return nil
	}
	m.status = StatusConnected
	m.mu.Unlock()

	m.log.Info("connected", zap.String("url", m.url))
	m.emitStatus(StatusConnected)
	return nil
}

// Disconnect sends a best-effort stop command when connected, then closes
// the connection. The status always ends Disconnected, even if the stop
// command cannot be sent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	prev := m.status
	m.conn = nil
	m.gen++
	m.status = StatusDisconnected
	m.mu.Unlock()

	if conn != nil {
		if prev == StatusConnected {
			if err := m.write(conn, commandMessage(ActionStop, m.sink.SessionID())); err != nil {
				m.log.Warn("stop command not sent", zap.Error(err))
			}
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		conn.Close()
		m.log.Info("disconnected")
	}

	if prev != StatusDisconnected {
		m.emitStatus(StatusDisconnected)
	}
	if conn != nil || prev != StatusDisconnected {
		m.emitClose()
	}
}

// SendFrame transmits one base64 JPEG frame tagged with the current session.
// Frames are dropped, not queued, when the connection is not open.
func (m *Manager) SendFrame(image string) bool {
	return m.send(frameMessage(image, time.Now().UnixMilli(), m.sink.SessionID()))
}

// SendCommand transmits a session command. It is dropped when the connection
// is not open or the action is unknown.
func (m *Manager) SendCommand(action Action) bool {
	if !action.Valid() {
		m.log.Warn("unknown command dropped", zap.String("action", string(action)))
		return false
	}
	return m.send(commandMessage(action, m.sink.SessionID()))
}

func (m *Manager) send(msg outbound) bool {
	m.mu.Lock()
	conn, gen := m.conn, m.gen
	open := m.status == StatusConnected && conn != nil
	m.mu.Unlock()

	if !open {
		return false
	}

	if err := m.write(conn, msg); err != nil {
		m.fail(gen, conn, &TransportError{Op: "write", Err: err})
		return false
	}
	return true
}

func (m *Manager) write(conn *websocket.Conn, msg outbound) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.closed(gen, conn)
			} else {
				m.fail(gen, conn, &TransportError{Op: "read", Err: err})
			}
			return
		}
		m.handleMessage(data)
	}
}

func (m *Manager) handleMessage(data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		m.log.Warn("discarding inbound message", zap.Error(err))
		return
	}

	switch msg.Type {
	case TypeDetection:
		sign := msg.Detection.SignValue()
		if sign == "" {
			return
		}
		m.sink.RecordDetection(session.Detection{
			Sign:           sign,
			Confidence:     msg.Detection.ConfidenceValue(),
			FrameTimestamp: msg.Detection.FrameTimestamp(),
			SessionID:      msg.Detection.SessionID,
		})

	case TypeCommand:
		m.record(msg)
		m.log.Debug("command acknowledged",
			zap.String("status", msg.Status.Status),
			zap.String("session_id", msg.Status.SessionID))

	case TypeError:
		m.record(msg)
		m.log.Warn("detection service error", zap.String("message", msg.Status.Message))
	}
}

func (m *Manager) record(msg Inbound) {
	m.mu.Lock()
	m.last = &msg
	m.mu.Unlock()
}

// closed handles an orderly close initiated by the server.
func (m *Manager) closed(gen uint64, conn *websocket.Conn) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.conn = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	conn.Close()
	m.log.Info("closed by server")
	m.emitStatus(StatusDisconnected)
	m.emitClose()
}

// fail moves a live or pending connection through Error to Disconnected.
// Failures of a superseded connection are ignored, and so is the second step
// when Connect or Disconnect ran in between.
func (m *Manager) fail(gen uint64, conn *websocket.Conn, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	failed := m.gen
	m.conn = nil
	m.lastErr = err
	m.status = StatusError
	m.mu.Unlock()

	m.log.Warn("connection failed", zap.Error(err))
	m.emitStatus(StatusError)

	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	if failed != m.gen || m.status != StatusError {
		m.mu.Unlock()
		return
	}
	m.status = StatusDisconnected
	m.mu.Unlock()

	m.emitStatus(StatusDisconnected)
	m.emitClose()
}

func (m *Manager) emitStatus(s Status) {
	m.mu.Lock()
	listeners := make([]func(Status), len(m.onStatus))
	copy(listeners, m.onStatus)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (m *Manager) emitClose() {
	m.mu.Lock()
	listeners := make([]func(), len(m.onClose))
	copy(listeners, m.onClose)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
