package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stillpointlabs/vidmark/internal/agent"
	"github.com/stillpointlabs/vidmark/internal/annotations"
	"github.com/stillpointlabs/vidmark/internal/api"
	"github.com/stillpointlabs/vidmark/internal/browser"
	"github.com/stillpointlabs/vidmark/internal/config"
	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/journal"
	"github.com/stillpointlabs/vidmark/internal/netutil"
	"github.com/stillpointlabs/vidmark/internal/notify"
	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/store"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("failed to load agent config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("vidmark config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"backend_url", cfg.BackendURL,
		"db_path", cfg.DBPath,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, netutil.FallbackAddrs(cfg.BindAddr, 5), true)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Debug("store close failed", "error", err)
		}
	}()

	jnl := journal.New(cfg.JournalDir, 0, 0)
	defer func() {
		if err := jnl.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
	}()

	fixtures, err := fixture.NewStore(cfg.FixtureDir)
	if err != nil {
		slog.Error("failed to create fixture store", "dir", cfg.FixtureDir, "error", err)
		os.Exit(1)
	}

	client := pagectl.NewClient(cfg.CDPURL(), cfg.TabURLFilter, time.Duration(cfg.EvalTimeoutMS)*time.Millisecond)
	// A browser that is down at start is not fatal; the tab sync job keeps
	// retrying through the client.
	if err := client.Connect(context.Background()); err != nil {
		slog.Warn("browser not reachable at start", "cdp_url", cfg.CDPURL(), "error", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	router := tabrouter.NewRouter(db, time.Duration(cfg.ContextGraceMS)*time.Millisecond)

	var backend annotations.Backend
	if cfg.BackendURL != "" {
		backend = annotations.NewClient(cfg.BackendURL, time.Duration(cfg.BackendTimeoutMS)*time.Millisecond, cfg.MarkerLimit)
	}

	coord := agent.New(agent.Options{
		Config:   cfg,
		Client:   client,
		Router:   router,
		Store:    db,
		Backend:  backend,
		Journal:  jnl,
		Fixtures: fixtures,
		Notifier: notify.New(cfg.PushoverToken, cfg.PushoverUser),
	})
	if err := coord.Start(context.Background()); err != nil {
		slog.Error("failed to start agent", "error", err)
		os.Exit(1)
	}

	h := api.NewServer(coord)
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("vidmark listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("vidmark server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("vidmark shutdown failed", "error", err)
	}
	coord.Stop()
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
