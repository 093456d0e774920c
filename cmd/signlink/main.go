package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/ayusman/signlink/internal/app"
	"github.com/ayusman/signlink/internal/capture"
	"github.com/ayusman/signlink/internal/config"
	"github.com/ayusman/signlink/internal/detection"
	"github.com/ayusman/signlink/internal/logger"
	"github.com/ayusman/signlink/internal/server"
	"github.com/ayusman/signlink/internal/session"
	"github.com/ayusman/signlink/internal/translate"
	"github.com/ayusman/signlink/internal/tray"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	useTray := flag.Bool("tray", false, "run as a system tray application instead of the console")
	flag.Parse()

	if err := run(*configPath, *useTray); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("signlink: %v", err))
		os.Exit(1)
	}
}

func run(configPath string, useTray bool) error {
	fmt.Println(color.CyanString("Signlink - Sign Language Translation"))

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Println(color.YellowString("config: %s", w))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeSource := newSource(cfg, capture.NewCamera(cfg.CameraID))
	defer closeSource()

	store := session.NewStore()
	conn := detection.NewManager(detection.Config{URL: cfg.DetectionURL, Logger: log}, store)
	client := translate.NewClient(translate.Config{
		TranslationURL: cfg.TranslationURL,
		GatewayURL:     cfg.GatewayURL,
		DetectionURL:   detectionHTTPURL(cfg.DetectionURL),
		Timeout:        cfg.ParsedRequestTimeout(),
	})
	requester := translate.NewRequester(translate.RequesterConfig{Language: cfg.Language, Logger: log}, store, client, conn)

	application := app.New(app.Config{
		Source:        source,
		Store:         store,
		Conn:          conn,
		Requester:     requester,
		Health:        client,
		Contexts:      client,
		FrameInterval: cfg.FrameInterval(),
		Logger:        log,
	})
	defer func() {
		if err := application.Close(); err != nil {
			log.Warn("closing camera", zap.Error(err))
		}
	}()

	if err := application.OpenCamera(); err != nil {
		fmt.Println(color.YellowString("camera: %v", err))
	}

	log.Info("session ready", zap.String("session_id", store.SessionID()))

	if cfg.ListenAddr != "" {
		staticDir := findWebDir(cfg.StaticDir)
		srv := server.New(server.Config{
			StaticDir:  staticDir,
			Controller: application,
			Preview:    source,
			Logger:     log,
		})
		defer srv.Close()

		go func() {
			if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
				log.Error("control server failed", zap.Error(err))
			}
		}()
		fmt.Printf("Control panel on %s\n", panelURL(cfg.ListenAddr))
	}

	if useTray {
		runTray(ctx, application, panelURL(cfg.ListenAddr), log)
	} else {
		c := &console{ctrl: application, out: os.Stdout}
		c.run(ctx, os.Stdin)
	}

	fmt.Println("Shutting down...")
	return nil
}

func runTray(ctx context.Context, application *app.App, panelURL string, log *zap.Logger) {
	t := tray.New()

	t.OnToggle(func(translating bool) {
		if !translating {
			application.Stop()
			return
		}
		if err := application.Start(ctx); err != nil {
			log.Warn("start failed", zap.Error(err))
		}
	})
	t.OnProcess(func() {
		reqCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := application.ProcessSigns(reqCtx); err != nil {
			log.Warn("translation failed", zap.Error(err))
		}
	})
	t.OnClear(func() { application.Clear(ctx) })
	if panelURL != "" {
		t.OnOpenUI(func() {
			if err := openBrowser(panelURL); err != nil {
				log.Warn("open control panel", zap.Error(err))
			}
		})
	}

	unsubscribe := application.Subscribe(t.Update)
	defer unsubscribe()
	t.Update(application.View())

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

// newSource builds the capture source at the configured frame rate, with the
// motion gate when enabled. The returned func releases the gate.
func newSource(cfg config.Config, camera capture.Camera) (*capture.Source, func()) {
	camera.SetFPS(cfg.FrameRate)
	source := capture.NewSource(camera, cfg.JPEGQuality)
	if !cfg.MotionGate {
		return source, func() {}
	}
	motion := capture.NewMotionDetector(cfg.MotionThreshold)
	source.SetMotionGate(motion)
	return source, motion.Close
}

// panelURL is the control panel address, or "" when the server is off.
func panelURL(listenAddr string) string {
	if listenAddr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// detectionHTTPURL derives the HTTP base of the detection service from its
// websocket endpoint.
func detectionHTTPURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return translate.DefaultDetectionURL
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func defaultConfigPath() string {
	if v := os.Getenv(config.EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "signlink.yaml"
	}
	return filepath.Join(homeDir, ".signlink", "config.yaml")
}

// findWebDir returns dir if it exists, else the first of "web", "../web" and
// ~/.signlink/web that does, else "".
func findWebDir(dir string) string {
	candidates := []string{dir, "web", "../web"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".signlink", "web"))
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func openBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
}
