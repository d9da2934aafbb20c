package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/dispatch"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	log := logger.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("lock_backend", cfg.LockBackend),
		zap.Bool("shared_state", cfg.SharedState),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer deps.Close()

	m := metrics.New()
	svc := deps.NewService(appointment.WithRecorder(m))

	loadCtx, cancelLoad := context.WithTimeout(rootCtx, 30*time.Second)
	err = svc.Load(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatal("schedule load failed", zap.Error(err))
	}

	router := api.NewRouter(api.RouterConfig{
		Service:    svc,
		Dispatcher: dispatch.New(svc, log),
		Metrics:    m,
		Logger:     log,
		PgPool:     deps.Pool,
		Redis:      deps.Redis,
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// the pruner shares svc and its lock, so it never races request writes
	prunerDone := make(chan struct{})
	if cfg.PruneInterval > 0 {
		go func() {
			defer close(prunerDone)
			app.NewPruner(svc, cfg.PruneInterval, log).Run(rootCtx)
		}()
	} else {
		log.Warn("slot pruner disabled", zap.Duration("prune_interval", cfg.PruneInterval))
		close(prunerDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	exitCode := 0
	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}
	stop()
	select {
	case <-prunerDone:
	case <-shutdownCtx.Done():
		log.Warn("slot pruner did not stop in time")
	}

	if svc.Dirty() {
		if err := svc.Flush(shutdownCtx); err != nil {
			log.Error("unsaved schedule changes lost on shutdown", zap.Error(err))
			exitCode = 1
		}
	}

	log.Info("api-server stopped")
	if exitCode != 0 {
		deps.Close()
		_ = log.Sync()
		os.Exit(exitCode)
	}
}
