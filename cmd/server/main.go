// Package main implements the RotorWise diagnostic server: it hosts the
// browser UI and the JSON API behind it, and owns the process-wide wiring of
// storage, the diagnostic client, and the event publisher.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/controller"
	"github.com/lukeponga-dev/rotorwise/engine/diagnose"
	"github.com/lukeponga-dev/rotorwise/engine/history"
	"github.com/lukeponga-dev/rotorwise/pkg/events"
	"github.com/lukeponga-dev/rotorwise/pkg/metrics"
	"github.com/lukeponga-dev/rotorwise/pkg/mid"
	"github.com/lukeponga-dev/rotorwise/pkg/resilience"
	"github.com/lukeponga-dev/rotorwise/pkg/store"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	BaseURL    string
	Model      string
	DataPath   string
	NATSURL    string
	CORSOrigin string
	LogLevel   string
	LogFormat  string
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		BaseURL:    envOr("GEMINI_BASE_URL", diagnose.DefaultOptions().BaseURL),
		Model:      envOr("MODEL", diagnose.DefaultOptions().Model),
		DataPath:   envOr("DATA_PATH", ""),
		NATSURL:    envOr("NATS_URL", ""),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogFormat:  envOr("LOG_FORMAT", "json"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.LogFormat == "text" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Local store ---
	dataPath := cfg.DataPath
	if dataPath == "" {
		dataPath = store.DefaultPath()
	}
	db, err := store.Open(dataPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	historyStore := history.Load(db, logger)
	credentials := controller.NewCredentials(db)

	// --- Diagnostic client ---
	client := diagnose.New(diagnose.Options{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}, logger)

	// --- Event publisher (no-op without a broker URL) ---
	publisher, err := events.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer publisher.Close()
	if publisher.Enabled() {
		logger.Info("event publisher enabled", "url", cfg.NATSURL)
	}

	// --- Sessions + HTTP server ---
	reg := metrics.New()
	sessions := newSessionManager(func() *controller.Controller {
		mgr := attachment.NewManager(logger)
		mgr.OnEncode(func(outcome string) {
			reg.Counter(metrics.WithLabels("rotorwise_attachment_encodes_total", "outcome", outcome),
				"Attachment encode outcomes.").Inc()
		})
		return controller.New(controller.Options{
			Attachments: mgr,
			History:     historyStore,
			Credentials: credentials,
			Diagnose:    client.Request,
			Publisher:   publisher,
			Logger:      logger,
		})
	})
	sessions.startJanitor(ctx)

	srv := newServer(logger, sessions, historyStore, credentials, reg)

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("rotorwise"),
		mid.RateLimit(resilience.NewKeyedLimiter(resilience.DefaultLimiterOpts)),
		sessionMiddleware,
	)

	httpSrv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// A diagnosis response can take up to the client timeout.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "data_path", dataPath)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
