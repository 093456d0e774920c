package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ayusman/signlink/internal/app"
	"github.com/ayusman/signlink/internal/detection"
	"github.com/ayusman/signlink/internal/translate"
)

// controller is what the console drives.
type controller interface {
	Start(ctx context.Context) error
	Stop()
	ProcessSigns(ctx context.Context) (string, error)
	Clear(ctx context.Context) string
	View() app.View
	Health(ctx context.Context) []app.ServiceHealth
	RemoteContext(ctx context.Context) (*translate.SessionContext, error)
}

const consoleHelp = `commands:
  start      connect and start sending frames
  stop       stop sending frames and disconnect
  translate  turn the accumulated signs into a sentence
  clear      start a new session
  status     show the session
  history    show past translations
  context    show the translation service context for this session
  health     check the external services
  quit       exit`

type console struct {
	ctrl controller
	out  io.Writer
}

// run reads commands from in until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(c.out, color.CyanString("Type 'help' for commands."))
	for {
		fmt.Fprint(c.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.exec(ctx, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// exec runs one command and reports whether the console should continue.
func (c *console) exec(ctx context.Context, cmd string) bool {
	switch strings.ToLower(cmd) {
	case "":
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "start":
		if err := c.ctrl.Start(ctx); err != nil {
			fmt.Fprintln(c.out, color.RedString("connect failed: %v", err))
		}
		c.printStatus()
	case "stop":
		c.ctrl.Stop()
		c.printStatus()
	case "translate", "process":
		reqCtx, cancel := context.WithTimeout(ctx, time.Minute)
		translation, err := c.ctrl.ProcessSigns(reqCtx)
		cancel()
		switch {
		case err != nil:
			fmt.Fprintln(c.out, color.RedString("translation failed: %v", err))
		case translation == "":
			fmt.Fprintln(c.out, color.YellowString("no signs to translate"))
		default:
			fmt.Fprintln(c.out, color.GreenString("» %s", translation))
		}
	case "clear":
		id := c.ctrl.Clear(ctx)
		fmt.Fprintf(c.out, "new session %s\n", color.CyanString("%s", id))
	case "status":
		c.printStatus()
	case "history":
		c.printHistory()
	case "health":
		c.printHealth(ctx)
	case "context":
		c.printContext(ctx)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintln(c.out, color.YellowString("unknown command %q, type 'help'", cmd))
	}
	return true
}

func (c *console) printStatus() {
	v := c.ctrl.View()

	fmt.Fprintf(c.out, "connection:  %s\n", connectionLabel(v))
	fmt.Fprintf(c.out, "session:     %s\n", v.SessionID)
	fmt.Fprintf(c.out, "translating: %v   capturing: %v   camera: %s\n", v.Translating, v.Capturing, cameraLabel(v))
	if v.LastSign != "" {
		fmt.Fprintf(c.out, "last sign:   %s (%.0f%%)\n", color.CyanString("%s", v.LastSign), v.Confidence*100)
	}
	fmt.Fprintf(c.out, "signs:       %s\n", strings.Join(v.AccumulatedSigns, " "))
	if v.LastAck != "" {
		fmt.Fprintf(c.out, "last ack:    %s\n", v.LastAck)
	}
	if v.CurrentSentence != "" {
		fmt.Fprintf(c.out, "sentence:    %s\n", color.GreenString("%s", v.CurrentSentence))
	}
}

func (c *console) printHistory() {
	history := c.ctrl.View().History
	if len(history) == 0 {
		fmt.Fprintln(c.out, "no translations yet")
		return
	}
	for _, h := range history {
		ts := time.UnixMilli(h.Timestamp).Format("15:04:05")
		fmt.Fprintf(c.out, "%s  %s  %s\n", ts, strings.Join(h.Signs, " "), color.GreenString("%s", h.Translation))
	}
}

func (c *console) printHealth(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, s := range c.ctrl.Health(reqCtx) {
		if s.Error != "" {
			fmt.Fprintf(c.out, "%-12s %s (%s)\n", s.Name, color.RedString("%s", s.Status), s.Error)
			continue
		}
		fmt.Fprintf(c.out, "%-12s %s\n", s.Name, color.GreenString("%s", s.Status))
	}
}

func (c *console) printContext(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sc, err := c.ctrl.RemoteContext(reqCtx)
	if err != nil {
		fmt.Fprintln(c.out, color.RedString("context unavailable: %v", err))
		return
	}
	if sc.Context == "" && len(sc.History) == 0 {
		fmt.Fprintln(c.out, "no context yet")
		return
	}
	fmt.Fprintf(c.out, "context: %s\n", sc.Context)
	for _, e := range sc.History {
		fmt.Fprintf(c.out, "  %s  %s\n", strings.Join(e.Signs, " "), color.GreenString("%s", e.Translation))
	}
}

func connectionLabel(v app.View) string {
	switch v.ConnectionStatus {
	case detection.StatusConnected:
		return color.GreenString("connected")
	case detection.StatusConnecting:
		return color.YellowString("connecting")
	case detection.StatusError:
		return color.RedString("error")
	}
	if v.Error != "" {
		return color.RedString("disconnected (%s)", v.Error)
	}
	return "disconnected"
}

func cameraLabel(v app.View) string {
	if v.CameraReady {
		return color.GreenString("ready")
	}
	if v.CameraError != "" {
		return color.RedString("%s", v.CameraError)
	}
	return "off"
}
