package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for the FHIR resource store
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	tables := []string{
		createResourcesTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createResourcesTypeIndex,
		createResourcesSubjectIndex,
		createResourcesContentIndex,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// SQL DDL statements for the resource store
const (
	createResourcesTable = `
		CREATE TABLE IF NOT EXISTS fhir_resources (
			id TEXT PRIMARY KEY,
			resource_type TEXT NOT NULL,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);`

	createResourcesTypeIndex = `
		CREATE INDEX IF NOT EXISTS idx_fhir_resources_type
		ON fhir_resources (resource_type);`

	createResourcesSubjectIndex = `
		CREATE INDEX IF NOT EXISTS idx_fhir_resources_subject
		ON fhir_resources ((content -> 'subject' ->> 'reference'));`

	createResourcesContentIndex = `
		CREATE INDEX IF NOT EXISTS idx_fhir_resources_content
		ON fhir_resources USING GIN (content);`
)
