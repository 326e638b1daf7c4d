// Package database owns the Postgres store behind the local FHIR
// adapter. Resources live as JSONB documents in a single fhir_resources
// table, created on startup by CreateSchema along with the type, subject
// and full-content indexes the voice tools query through.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
)

const pingTimeout = 5 * time.Second

// DB wraps the sql pool together with the settings it was opened with.
type DB struct {
	*sql.DB
	config *config.DatabaseConfig
	logger *logger.Logger
}

// NewConnection opens the Postgres pool and verifies it is reachable.
// Callers follow up with CreateSchema before serving traffic.
func NewConnection(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	pool, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening resource store: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("resource store unreachable: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"host":     cfg.Host,
		"database": cfg.Name,
	}).Info("Resource store connected")
	return &DB{DB: pool, config: cfg, logger: log}, nil
}

func dsn(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

// Health pings the store with a bounded deadline.
func (db *DB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
