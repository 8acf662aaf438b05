package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"presence-bot/internal/config"
	"presence-bot/internal/handler"
	"presence-bot/internal/i18n"
	"presence-bot/internal/mattermost"
	"presence-bot/internal/service"
	"presence-bot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	if err := i18n.Init(cfg.DefaultLocale); err != nil {
		slog.Error("Failed to load locales", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		docs  store.Provider
		ready = func(context.Context) error { return nil }
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		slog.Warn("Using in-memory store; data is lost on restart")
		docs = store.NewMemory()
	default:
		db, err := store.NewMongoDB(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			slog.Error("Failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer db.Close(context.Background())

		provider, err := store.NewMongoProvider(ctx, db)
		if err != nil {
			slog.Error("Failed to prepare MongoDB collections", "error", err)
			os.Exit(1)
		}
		docs = provider
		ready = db.Ping
	}
	presenceStore := store.NewPresenceStore(docs)

	mm := mattermost.NewClient(cfg.MattermostURL, cfg.PresenceBotToken)

	// Services
	prefs := service.NewPreferenceService(presenceStore, cfg.DefaultTimezone, nil)
	scheduler := service.NewReminderScheduler(presenceStore, prefs, mm, nil, service.ReminderConfig{
		PollInterval:  cfg.ReminderPollInterval,
		IdleThreshold: cfg.ReminderIdleThreshold,
		Cooldown:      cfg.ReminderCooldown,
		Concurrency:   cfg.ReminderConcurrency,
	})
	presenceSvc := service.NewPresenceService(presenceStore, prefs, scheduler, nil)

	// Routes
	mux := http.NewServeMux()
	handler.NewPresenceHandler(presenceSvc, prefs, mm, cfg.SlashCommandToken).RegisterRoutes(mux)

	// Health checks
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(pingCtx); err != nil {
			slog.Warn("Readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.LoggingMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("Presence bot started", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown", "error", err)
	}
	wg.Wait()
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler
	if cfg.Production() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
