// Package ingest loads FHIR NDJSON exports into the resource store. Each
// file holds one resource type, named <ResourceType>.ndjson, with one
// resource per line.
package ingest

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medvoice/voice-emr/pkg/logger"
)

// Stats summarizes one ingestion run.
type Stats struct {
	Files   int
	Loaded  int
	Skipped int
}

// Loader writes NDJSON resources into the fhir_resources table.
type Loader struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewLoader creates a loader over the given database handle.
func NewLoader(db *sql.DB, log *logger.Logger) *Loader {
	return &Loader{db: db, logger: log}
}

// LoadDirectory ingests every .ndjson file in dir. Malformed lines and
// resources without an id are counted and skipped, never fatal.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("reading ingest directory: %w", err)
	}

	var stats Stats
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ndjson") {
			continue
		}
		stats.Files++

		resourceType := strings.TrimSuffix(entry.Name(), ".ndjson")
		loaded, skipped, err := l.loadFile(ctx, filepath.Join(dir, entry.Name()), resourceType)
		if err != nil {
			return stats, err
		}
		stats.Loaded += loaded
		stats.Skipped += skipped

		l.logger.WithFields(map[string]interface{}{
			"file":    entry.Name(),
			"loaded":  loaded,
			"skipped": skipped,
		}).Info("Ingested NDJSON file")
	}
	return stats, nil
}

func (l *Loader) loadFile(ctx context.Context, path, resourceType string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fhir_resources (id, resource_type, content)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET resource_type = $2, content = $3`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	scanner := bufio.NewScanner(file)
	// Some resources (large bundles of components) exceed the default
	// scanner buffer.
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	loaded, skipped := 0, 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resource map[string]interface{}
		if err := json.Unmarshal([]byte(line), &resource); err != nil {
			skipped++
			continue
		}
		id, _ := resource["id"].(string)
		if id == "" {
			skipped++
			continue
		}

		if _, err := stmt.ExecContext(ctx, id, resourceType, line); err != nil {
			return loaded, skipped, fmt.Errorf("inserting %s/%s: %w", resourceType, id, err)
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, skipped, fmt.Errorf("scanning %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return loaded, skipped, fmt.Errorf("committing %s: %w", path, err)
	}
	return loaded, skipped, nil
}
