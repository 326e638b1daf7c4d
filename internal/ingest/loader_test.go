package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNDJSON(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirectorySkipsMalformedLines(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	writeNDJSON(t, dir, "Patient.ndjson",
		`{"resourceType":"Patient","id":"p1"}
not json at all
{"resourceType":"Patient","name":"missing id"}
{"resourceType":"Patient","id":"p2"}
`)
	writeNDJSON(t, dir, "notes.txt", "ignored")

	mock.ExpectBegin()
	prepared := mock.ExpectPrepare(`INSERT INTO fhir_resources`)
	prepared.ExpectExec().
		WithArgs("p1", "Patient", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prepared.ExpectExec().
		WithArgs("p2", "Patient", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loader := NewLoader(db, logger.New("ingest-test", "debug"))
	stats, err := loader.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 2, stats.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDirectoryEmpty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	loader := NewLoader(db, logger.New("ingest-test", "debug"))
	stats, err := loader.LoadDirectory(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestLoadDirectoryMissing(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	loader := NewLoader(db, logger.New("ingest-test", "debug"))
	_, err = loader.LoadDirectory(context.Background(), "/does/not/exist")
	require.Error(t, err)
}
