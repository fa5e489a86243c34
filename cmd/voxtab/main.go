package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/voxtab/voxtab/internal/bridge"
	"github.com/voxtab/voxtab/internal/config"
	"github.com/voxtab/voxtab/internal/dispatch"
	"github.com/voxtab/voxtab/internal/session"
)

var version = "dev"

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("voxtab %s\n", version)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "config" {
		config.HandleConfigCommand(cfg)
		os.Exit(0)
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("cannot create state dir", "err", err)
		os.Exit(1)
	}

	browserCtx, browserCancel, err := bridge.InitChrome(cfg)
	if err != nil {
		slog.Warn("chrome startup failed, clearing sessions and retrying once", "err", err)
		bridge.ClearChromeSessions(cfg.ProfileDir)
		bridge.MarkCleanExit(cfg.ProfileDir)

		browserCtx, browserCancel, err = bridge.InitChrome(cfg)
		if err != nil {
			slog.Error("chrome failed to start after retry",
				"err", err,
				"hint", "try VOXTAB_NO_RESTORE=true or delete your profile directory",
				"profile", cfg.ProfileDir,
			)
			os.Exit(1)
		}
		slog.Info("chrome started on retry")
	}

	tabs := bridge.NewTabManager(browserCtx, cfg)

	// In CDP_URL mode the initial target may not exist yet; tabs get
	// adopted as the host addresses them.
	if cfg.CdpURL == "" {
		initTargetID := string(chromedp.FromContext(browserCtx).Target.TargetID)
		tabs.RegisterTab(initTargetID, browserCtx, nil)
		slog.Info("initial tab", "id", initTargetID)
	}

	if !cfg.NoRestore {
		go tabs.RestoreState()
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go tabs.CleanStaleTabs(cleanupCtx, 30*time.Second)

	sess := session.New(cfg.HostURL, session.WebSocketDialer(cfg.Token), session.Config{
		ReconnectBase:  cfg.ReconnectBase,
		ReconnectCap:   cfg.ReconnectCap,
		MaxReconnects:  cfg.MaxReconnects,
		HeartbeatEvery: cfg.HeartbeatEvery,
		RequestTimeout: cfg.RequestTimeout,
	})

	disp := dispatch.New(tabs, cfg)
	sess.OnType("command", func(msg session.Message) {
		sess.Send(disp.HandleCommand(msg))
	})
	sess.SubscribeStatus(func(connected bool) {
		if connected {
			slog.Info("host channel up", "url", cfg.HostURL)
			return
		}
		slog.Warn("host channel down", "queued", sess.QueuedMessages())
		// Index overlays must not linger on pages with no controller.
		go disp.Broadcast("overlay", json.RawMessage(`{"action":"hide"}`))
	})

	if err := sess.Connect(context.Background()); err != nil {
		// Backoff is already scheduled; the bridge keeps serving and
		// queueing until the host shows up.
		slog.Warn("initial host connect failed", "err", err)
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down, saving state...")
			cleanupCancel()
			tabs.SaveState()
			bridge.MarkCleanExit(cfg.ProfileDir)
			sess.Close()
			browserCancel()
			slog.Info("chrome closed")
		})
	}

	setupSignalHandler(doShutdown, func() {
		cleanupCancel()
		browserCancel()
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		targets, err := tabs.ListTargets()
		status := "ok"
		if err != nil {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            status,
			"version":           version,
			"hostConnected":     sess.Connected(),
			"reconnectAttempts": sess.ReconnectAttempts(),
			"queuedMessages":    sess.QueuedMessages(),
			"tabs":              len(targets),
		})
	})
	mux.HandleFunc("POST /reconnect", func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Reconnect(r.Context()); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connected": sess.Connected()})
	})

	srv := &http.Server{
		Addr:              cfg.HealthAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("voxtab bridge running", "health", cfg.HealthAddr(), "host", cfg.HostURL, "cdp", cfg.CdpURL)
	if cfg.Token != "" {
		slog.Info("host auth enabled")
	} else {
		slog.Info("host auth disabled (set VOXTAB_TOKEN to enable)")
	}

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("health server", "err", err)
		doShutdown()
		os.Exit(1)
	}
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go func() {
			shutdownFn()
			os.Exit(0)
		}()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
