// Package app wires the capture source, the detection connection and the
// translation requester into the start/stop/process/clear lifecycle.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/signlink/internal/detection"
	"github.com/ayusman/signlink/internal/session"
	"github.com/ayusman/signlink/internal/translate"
)

// DefaultFrameInterval is the capture loop period (10 fps).
const DefaultFrameInterval = 100 * time.Millisecond

// FrameSource produces encoded frames for the detection service.
type FrameSource interface {
	Start() error
	Stop() error
	Ready() bool
	CaptureFrame() (string, bool)
}

// Connection is the live link to the detection service.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsOpen() bool
	SendFrame(image string) bool
	Status() detection.Status
	Err() error
	LastMessage() (detection.Inbound, bool)
	OnStatus(fn func(detection.Status))
	OnClose(fn func())
}

// SignProcessor translates and clears the session.
type SignProcessor interface {
	ProcessAccumulatedSigns(ctx context.Context) (string, error)
	ClearSession(ctx context.Context) string
}

// HealthChecker probes the external services.
type HealthChecker interface {
	GatewayHealth(ctx context.Context) (*translate.HealthStatus, error)
	DetectionHealth(ctx context.Context) (*translate.HealthStatus, error)
	TranslationHealth(ctx context.Context) (*translate.HealthStatus, error)
}

// ContextFetcher reads the context the translation service keeps for a
// session.
type ContextFetcher interface {
	GetContext(ctx context.Context, sessionID string) (*translate.SessionContext, error)
}

// ErrNoContextFetcher is returned by RemoteContext when no fetcher is set.
var ErrNoContextFetcher = errors.New("app: translation context not available")

// Config holds the collaborators of the application.
type Config struct {
	Source        FrameSource
	Store         *session.Store
	Conn          Connection
	Requester     SignProcessor
	Health        HealthChecker
	Contexts      ContextFetcher
	FrameInterval time.Duration
	Logger        *zap.Logger
}

// View is everything a presentation layer shows.
type View struct {
	session.Snapshot
	ConnectionStatus detection.Status `json:"connection_status"`
	Connected        bool             `json:"is_connected"`
	Error            string           `json:"error,omitempty"`
	LastAck          string           `json:"last_ack,omitempty"`
	Capturing        bool             `json:"capturing"`
	CameraReady      bool             `json:"camera_ready"`
	CameraError      string           `json:"camera_error,omitempty"`
}

// ServiceHealth is the result of probing one external service.
type ServiceHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// App is the translation session controller.
type App struct {
	source    FrameSource
	store     *session.Store
	conn      Connection
	requester SignProcessor
	health    HealthChecker
	contexts  ContextFetcher
	interval  time.Duration
	log       *zap.Logger

	mu        sync.Mutex
	stopCh    chan struct{}
	cameraErr error

	obsMu     sync.Mutex
	observers map[int]func(View)
	nextObs   int
}

// New creates an App. The connection's close hook cancels the capture loop.
func New(cfg Config) *App {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	a := &App{
		source:    cfg.Source,
		store:     cfg.Store,
		conn:      cfg.Conn,
		requester: cfg.Requester,
		health:    cfg.Health,
		contexts:  cfg.Contexts,
		interval:  cfg.FrameInterval,
		log:       cfg.Logger.Named("app"),
		observers: make(map[int]func(View)),
	}

	a.conn.OnClose(a.stopLoop)
	a.conn.OnStatus(func(detection.Status) { a.notify() })
	a.store.Subscribe(func(session.Snapshot) { a.notify() })
	return a
}

// OpenCamera starts the capture source. Failures are kept for the view and
// returned; the session can still be started and simply sends no frames.
func (a *App) OpenCamera() error {
	err := a.source.Start()

	a.mu.Lock()
	a.cameraErr = err
	a.mu.Unlock()

	if err != nil {
		a.log.Warn("camera unavailable", zap.Error(err))
	}
	a.notify()
	return err
}

// Start begins translating: the session is marked translating, the capture
// loop is started if it is not running and the connection is opened.
// A connection failure is returned; the translating flag stays set.
func (a *App) Start(ctx context.Context) error {
	if !a.source.Ready() {
		_ = a.OpenCamera()
	}

	a.store.StartTranslation()
	a.startLoop()

	if err := a.conn.Connect(ctx); err != nil {
		a.log.Warn("connect failed", zap.Error(err))
		return err
	}
	return nil
}

// Stop cancels the capture loop, clears the translating flag and closes the
// connection. The camera stays open.
func (a *App) Stop() {
	a.stopLoop()
	a.store.StopTranslation()
	a.conn.Disconnect()
}

// Close stops everything including the camera.
func (a *App) Close() error {
	a.Stop()
	return a.source.Stop()
}

// ProcessSigns translates the accumulated signs.
func (a *App) ProcessSigns(ctx context.Context) (string, error) {
	return a.requester.ProcessAccumulatedSigns(ctx)
}

// Clear resets the session and returns the new session identifier.
func (a *App) Clear(ctx context.Context) string {
	return a.requester.ClearSession(ctx)
}

// Capturing reports whether the capture loop is running.
func (a *App) Capturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCh != nil
}

// View returns the current presentation state.
func (a *App) View() View {
	a.mu.Lock()
	capturing := a.stopCh != nil
	cameraErr := a.cameraErr
	a.mu.Unlock()

	v := View{
		Snapshot:         a.store.Snapshot(),
		ConnectionStatus: a.conn.Status(),
		Connected:        a.conn.IsOpen(),
		Capturing:        capturing,
		CameraReady:      a.source.Ready(),
	}
	if err := a.conn.Err(); err != nil {
		v.Error = err.Error()
	}
	if cameraErr != nil {
		v.CameraError = cameraErr.Error()
	}
	if msg, ok := a.conn.LastMessage(); ok {
		v.LastAck = ackLabel(msg)
	}
	return v
}

// ackLabel renders a command acknowledgement or service error for display.
func ackLabel(msg detection.Inbound) string {
	if msg.Status == nil {
		return ""
	}
	if msg.Type == detection.TypeError {
		return "error: " + msg.Status.Message
	}
	if msg.Status.Status != "" {
		return msg.Status.Status
	}
	return msg.Status.Message
}

// RemoteContext returns the context the translation service holds for the
// current session.
func (a *App) RemoteContext(ctx context.Context) (*translate.SessionContext, error) {
	if a.contexts == nil {
		return nil, ErrNoContextFetcher
	}
	return a.contexts.GetContext(ctx, a.store.SessionID())
}

// Subscribe registers fn to receive the view after every change.
func (a *App) Subscribe(fn func(View)) (unsubscribe func()) {
	a.obsMu.Lock()
	id := a.nextObs
	a.nextObs++
	a.observers[id] = fn
	a.obsMu.Unlock()

	return func() {
		a.obsMu.Lock()
		delete(a.observers, id)
		a.obsMu.Unlock()
	}
}

func (a *App) notify() {
	a.obsMu.Lock()
	if len(a.observers) == 0 {
		a.obsMu.Unlock()
		return
	}
	observers := make([]func(View), 0, len(a.observers))
	for _, fn := range a.observers {
		observers = append(observers, fn)
	}
	a.obsMu.Unlock()

	v := a.View()
	for _, fn := range observers {
		fn(v)
	}
}

// Health probes the gateway, detection and translation services in parallel.
func (a *App) Health(ctx context.Context) []ServiceHealth {
	checks := []struct {
		name  string
		check func(context.Context) (*translate.HealthStatus, error)
	}{
		{"gateway", a.health.GatewayHealth},
		{"detection", a.health.DetectionHealth},
		{"translation", a.health.TranslationHealth},
	}

	results := make([]ServiceHealth, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, name string, check func(context.Context) (*translate.HealthStatus, error)) {
			defer wg.Done()
			res := ServiceHealth{Name: name}
			h, err := check(ctx)
			if err != nil {
				res.Status = "unreachable"
				res.Error = err.Error()
			} else {
				res.Status = h.Status
			}
			results[i] = res
		}(i, c.name, c.check)
	}
	wg.Wait()
	return results
}
