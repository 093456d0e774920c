// Package tray provides a system tray control surface for signlink.
package tray

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/getlantern/systray"

	"github.com/ayusman/signlink/internal/app"
	"github.com/ayusman/signlink/internal/detection"
)

const maxSentenceLen = 40

// Tray represents the system tray application.
type Tray struct {
	onToggle  func(translating bool)
	onProcess func()
	onClear   func()
	onOpenUI  func()
	onQuit    func()
	view      app.View
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuStatus   *systray.MenuItem
	menuLastSign *systray.MenuItem
	menuSentence *systray.MenuItem
}

// New creates a new Tray showing an idle, disconnected session.
func New() *Tray {
	return &Tray{
		view: app.View{ConnectionStatus: detection.StatusDisconnected},
	}
}

// OnToggle sets the callback called with the requested translating state.
func (t *Tray) OnToggle(fn func(translating bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnProcess sets the callback for "Process Signs".
func (t *Tray) OnProcess(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProcess = fn
}

// OnClear sets the callback for "Clear Session".
func (t *Tray) OnClear(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClear = fn
}

// OnOpenUI sets the callback for "Open Control Panel...".
func (t *Tray) OnOpenUI(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenUI = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Signlink")
	systray.SetTooltip("Signlink Sign Language Translation")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(false), "Start or stop translating")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem(statusTitle(t.view), "Detection service connection")
	t.menuStatus.Disable()
	t.menuLastSign = systray.AddMenuItem(lastSignTitle(t.view), "Last detected sign")
	t.menuLastSign.Disable()
	t.menuSentence = systray.AddMenuItem(sentenceTitle(t.view), "Current sentence")
	t.menuSentence.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuProcess := systray.AddMenuItem("Process Signs", "Translate the accumulated signs")
	menuClear := systray.AddMenuItem("Clear Session", "Start a new session")
	menuOpenUI := systray.AddMenuItem("Open Control Panel...", "Open the control panel in a browser")
	if !t.openUIEnabled() {
		menuOpenUI.Disable()
	}
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Signlink")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuProcess.ClickedCh:
				t.handle(func() func() { return t.onProcess })
			case <-menuClear.ClickedCh:
				t.handle(func() func() { return t.onClear })
			case <-menuOpenUI.ClickedCh:
				t.handle(func() func() { return t.onOpenUI })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// openUIEnabled reports whether a control panel can be opened.
func (t *Tray) openUIEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onOpenUI != nil
}

// handleToggle asks to start when idle and to stop when translating.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	want := !t.view.Translating
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(want)
	}
}

func (t *Tray) handle(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Update refreshes the menu from v. Safe to call before Run.
func (t *Tray) Update(v app.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.view = v
	if t.menuToggle == nil {
		return
	}
	t.menuToggle.SetTitle(toggleTitle(v.Translating))
	t.menuStatus.SetTitle(statusTitle(v))
	t.menuLastSign.SetTitle(lastSignTitle(v))
	t.menuSentence.SetTitle(sentenceTitle(v))
}

// IsTranslating returns the translating state last shown.
func (t *Tray) IsTranslating() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.view.Translating
}

func toggleTitle(translating bool) string {
	if translating {
		return "■ Stop Translation"
	}
	return "▶ Start Translation"
}

func statusTitle(v app.View) string {
	switch v.ConnectionStatus {
	case detection.StatusConnected:
		return "● Connected"
	case detection.StatusConnecting:
		return "◌ Connecting..."
	case detection.StatusError:
		return "✕ Connection error"
	default:
		if v.Error != "" {
			return "○ Disconnected (last error)"
		}
		return "○ Disconnected"
	}
}

func lastSignTitle(v app.View) string {
	if v.LastSign == "" {
		return "Last sign: none"
	}
	return fmt.Sprintf("Last sign: %s (%.0f%%)", v.LastSign, v.Confidence*100)
}

func sentenceTitle(v app.View) string {
	if v.CurrentSentence == "" {
		return "Sentence: none"
	}
	return "Sentence: " + truncate(v.CurrentSentence, maxSentenceLen)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
