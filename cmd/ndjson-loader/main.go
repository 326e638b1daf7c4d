package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/medvoice/voice-emr/internal/ingest"
	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/database"
	"github.com/medvoice/voice-emr/pkg/logger"
)

func main() {
	dir := flag.String("dir", "", "directory of <ResourceType>.ndjson files to load")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall load timeout")
	flag.Parse()

	log := logger.New("ndjson-loader", "info")

	if *dir == "" {
		log.Error("-dir is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log = logger.New("ndjson-loader", cfg.LogLevel)

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.CreateSchema(ctx); err != nil {
		log.WithError(err).Fatal("Failed to create schema")
	}

	loader := ingest.NewLoader(db.DB, log)
	stats, err := loader.LoadDirectory(ctx, *dir)
	if err != nil {
		log.WithError(err).Fatal("Load failed")
	}

	log.WithFields(map[string]interface{}{
		"files":   stats.Files,
		"loaded":  stats.Loaded,
		"skipped": stats.Skipped,
	}).Info("Load complete")
}
