// Package main implements the playback controller daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/config"
	"github.com/camwatch/playback/handlers"
	"github.com/camwatch/playback/internal/manager"
	"github.com/camwatch/playback/internal/metrics"
)

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cfg, err := config.New()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level based on config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to parse log level")
	}
	logrus.SetLevel(level)

	logger := logrus.StandardLogger()

	met := metrics.New()
	mgr := manager.New(cfg, logger, met)

	router := setupRoutes(cfg, mgr, met, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to gracefully shutdown")
		}
	}()

	logger.WithField("port", cfg.Port).Info("Starting playback controller daemon")
	if cfg.OriginAPIURL != "" {
		logger.WithField("origin_api", cfg.OriginAPIURL).Info("Origin lifecycle API configured")
	}

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("Failed to start server")
	}

	<-ctx.Done()
	logger.Info("Stopping playback sessions...")
	mgr.Shutdown()
	logger.Info("Server stopped")
}

func setupRoutes(cfg *config.Config, mgr *manager.Manager, met *metrics.Metrics, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger))

	streamsHandler := handlers.NewStreamsHandler(mgr, logger)
	streamsHandler.Register(r)

	eventsHandler := handlers.NewEventsHandler(mgr, cfg.Tuning.SampleInterval, logger)
	eventsHandler.Register(r)

	r.Handle("/metrics", met.Handler())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
