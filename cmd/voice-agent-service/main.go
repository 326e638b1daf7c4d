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

	"github.com/medvoice/voice-emr/internal/diagnosis"
	"github.com/medvoice/voice-emr/internal/fhirstore"
	"github.com/medvoice/voice-emr/internal/session"
	"github.com/medvoice/voice-emr/pkg/auth"
	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/database"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
	"github.com/medvoice/voice-emr/pkg/ratelimit"
)

func main() {
	log := logger.New("voice-agent-service", "info")
	log.Info("Starting Voice Agent Service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log = logger.New("voice-agent-service", cfg.LogLevel)

	metrics := monitoring.NewMetricsCollector("voice-agent-service")
	tracing := monitoring.NewTracingManager("voice-agent-service")
	health := monitoring.NewHealthManager("voice-agent-service", "1.0.0")

	// Resource store: remote FHIR endpoint or local Postgres
	var store fhirstore.Store
	if cfg.FHIR.UseRemote {
		store = fhirstore.NewRemoteStore(&cfg.FHIR, log)
		health.RegisterChecker("fhir_endpoint",
			monitoring.NewEndpointHealthChecker(cfg.FHIR.Endpoint+"/metadata", 5*time.Second))
		log.WithField("endpoint", cfg.FHIR.Endpoint).Info("Using remote FHIR store")
	} else {
		db, err := database.NewConnection(&cfg.Database, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.CreateSchema(context.Background()); err != nil {
			log.WithError(err).Fatal("Failed to create schema")
		}

		store = fhirstore.NewLocalStore(db.DB, log)
		health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))
		log.Info("Using local resource store")
	}

	var diagGen *diagnosis.Generator
	if cfg.Model.DiagnosisEndpoint != "" {
		diagGen = diagnosis.NewGenerator(&cfg.Model, log)
	}

	bridge := session.NewBridge(cfg, store, diagGen, log, metrics, tracing)
	validator := auth.NewTokenValidator(&cfg.JWT)

	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)

	router.HandleFunc(cfg.Monitoring.HealthPath, health.HTTPHandler()).Methods(http.MethodGet)
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods(http.MethodGet)
	}

	limiter := ratelimit.New(30, time.Minute)
	stopPruning := make(chan struct{})
	defer close(stopPruning)
	limiter.StartPruning(10*time.Minute, time.Hour, stopPruning)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(limiter.Middleware(log))
	if cfg.JWT.SecretKey != "" {
		api.Use(validator.Middleware(log))
	} else {
		log.Warn("JWT secret not configured, session endpoint is unauthenticated")
	}
	api.HandleFunc("/session", bridge.HandleSession)

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

	log.Info("Shutting down Voice Agent Service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Failed to shutdown server gracefully")
	}

	log.Info("Voice Agent Service stopped")
}
