package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.design/x/hotkey/mainthread"

	"markestedt/clipkb/agent"
	"markestedt/clipkb/config"
	"markestedt/clipkb/notify"
	"markestedt/clipkb/platform"
	"markestedt/clipkb/platform/keybind"
	"markestedt/clipkb/postprocess"
	"markestedt/clipkb/storage"
	"markestedt/clipkb/systray"
	"markestedt/clipkb/upload"
	"markestedt/clipkb/web"
)

var version = "dev"

// app holds the long-lived components wired together in main
type app struct {
	agent *agent.Agent
	db    *storage.DB
	web   *web.Server
	tray  atomic.Pointer[systray.SystrayManager]
}

func main() {
	// Setup logging
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("CLIPKB_LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	upload.UserAgent = "clipkb/" + version

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Configuration loaded", "path", cfg.Path())

	if err := cfg.Validate(); err != nil {
		slog.Warn("Configuration incomplete, uploads are refused until it is filled in", "error", err, "path", cfg.Path())
	}

	a := newApp(cfg)
	defer a.close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !cfg.Tray {
		// macOS needs the main thread for hotkey events
		mainthread.Init(func() { a.run(ctx) })
		slog.Info("ClipKB stopped")
		return
	}

	webURL := ""
	if a.web != nil {
		webURL = a.web.URL()
	}
	tray := systray.NewSystrayManager(a.agent, webURL)
	a.tray.Store(tray)

	go func() {
		select {
		case <-tray.WaitForQuit():
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(ctx)
		tray.Stop()
	}()

	tray.Run()
	cancel()
	<-done

	slog.Info("ClipKB stopped")
}

func newApp(cfg *config.Config) *app {
	a := &app{}
	dir := filepath.Dir(cfg.Path())

	db, err := storage.Open(dir)
	if err != nil {
		slog.Error("History unavailable", "error", err)
	} else {
		a.db = db
	}

	rules, err := postprocess.LoadRules(filepath.Join(dir, "rules.txt"))
	if err != nil {
		slog.Warn("Replacement rules not loaded", "error", err)
	}

	desktop := notify.NewDesktop()
	sinks := notify.NewMulti(
		notify.Log{},
		notify.SinkFunc(func(n notify.Notification) {
			if a.agent.Config().Notifications {
				desktop.Notify(n)
			}
		}),
	)

	opts := []agent.Option{
		agent.WithRules(rules),
		agent.WithStatusObserver(a.statusChanged),
	}
	if a.db != nil {
		opts = append(opts, agent.WithHistory(a.db))
	}

	if cfg.WebEnabled {
		a.web = web.NewServer(a.db, cfg.Clone(), cfg.WebPort,
			web.WithStatus(func() any { return a.agent.Status() }),
			web.WithConfigChange(func(c *config.Config) {
				if err := a.agent.Reconfigure(c); err != nil {
					slog.Warn("Settings saved but hotkey not applied", "error", err)
				}
			}),
		)
		sinks.Add(a.web)
		opts = append(opts,
			agent.WithUploadObserver(a.web.BroadcastUpload),
			agent.WithConfigObserver(a.web.UpdateConfig),
		)
	}

	a.agent = agent.New(cfg,
		keybind.NewBinder(),
		platform.NewClipboard(),
		platform.NewSelectionCopier(),
		sinks,
		opts...,
	)
	return a
}

// run serves the web UI and the agent until ctx is done
func (a *app) run(ctx context.Context) {
	if a.web != nil {
		go func() {
			if err := a.web.Start(); err != nil {
				slog.Error("Web server error", "error", err)
			}
		}()
	}

	slog.Info("ClipKB started", "version", version)
	if err := a.agent.Run(ctx); err != nil {
		slog.Error("Agent error", "error", err)
	}

	if a.web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.web.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Web server shutdown", "error", err)
		}
	}
}

func (a *app) statusChanged(s agent.Status) {
	if a.web != nil {
		a.web.BroadcastStatus(s.Status)
	}
	if tray := a.tray.Load(); tray != nil {
		text := s.Status
		if s.Hotkey != "" {
			text += " (" + s.Hotkey + ")"
		}
		tray.SetStatus(text)
	}
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("Failed to close history database", "error", err)
		}
	}
}
