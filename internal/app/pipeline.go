package app

import (
	"time"

	"go.uber.org/zap"
)

// startLoop starts the capture loop unless it is already running.
func (a *App) startLoop() {
	a.mu.Lock()
	if a.stopCh != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.stopCh = stop
	a.mu.Unlock()

	go a.runLoop(stop)
	a.log.Info("capture loop started", zap.Duration("interval", a.interval))
	a.notify()
}

// stopLoop signals the capture loop to exit. It does not wait, so it is safe
// to call from the loop goroutine itself (a failed send closes the connection,
// whose close hook lands here).
func (a *App) stopLoop() {
	a.mu.Lock()
	if a.stopCh == nil {
		a.mu.Unlock()
		return
	}
	close(a.stopCh)
	a.stopCh = nil
	a.mu.Unlock()

	a.log.Info("capture loop stopped")
	a.notify()
}

// runLoop sends one frame per tick while the connection is open. A tick with
// no frame or no open connection does nothing: frames are dropped, never
// queued.
func (a *App) runLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.tick(stop)
		}
	}
}

func (a *App) tick(stop <-chan struct{}) {
	frame, ok := a.source.CaptureFrame()
	if !ok {
		return
	}

	// The connection state is read now, not when the loop started.
	if !a.conn.IsOpen() {
		return
	}

	select {
	case <-stop:
		return
	default:
	}

	a.conn.SendFrame(frame)
}
