package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/medvoice/voice-emr/internal/transcribe"
	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

func main() {
	log := logger.New("transcribe-proxy", "info")
	log.Info("Starting Transcribe Proxy")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log = logger.New("transcribe-proxy", cfg.LogLevel)

	if cfg.Transcribe.Endpoint == "" {
		log.Fatal("transcribe.endpoint is required")
	}

	metrics := monitoring.NewMetricsCollector("transcribe-proxy")
	health := monitoring.NewHealthManager("transcribe-proxy", "1.0.0")

	backend := transcribe.NewWSBackend(cfg.Transcribe.Endpoint, log)
	proxy := transcribe.NewProxy(backend, &cfg.Transcribe, log, metrics)

	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)
	router.HandleFunc(cfg.Monitoring.HealthPath, health.HTTPHandler()).Methods(http.MethodGet)
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/transcribe", proxy.HandleConnection)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Transcribe Proxy")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Failed to shutdown server gracefully")
	}

	log.Info("Transcribe Proxy stopped")
}
