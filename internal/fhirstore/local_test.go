package fhirstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocalStore(t *testing.T) (*LocalStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	store := NewLocalStore(db, logger.New("fhirstore-test", "debug"))
	cleanup := func() { db.Close() }
	return store, mock, cleanup
}

func contentRows(contents ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"content"})
	for _, c := range contents {
		rows.AddRow([]byte(c))
	}
	return rows
}

func TestLocalStore_SearchByType(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT content FROM fhir_resources WHERE resource_type = \$1`).
		WithArgs("Patient").
		WillReturnRows(contentRows(
			`{"resourceType":"Patient","id":"p1"}`,
			`{"resourceType":"Patient","id":"p2"}`,
		))

	results, err := store.Call(context.Background(), "search_by_type", map[string]string{
		"resource_type": "Patient",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0]["id"])
	assert.Equal(t, "p2", results[1]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalStore_SearchByTypeMissingParam(t *testing.T) {
	store, _, cleanup := setupLocalStore(t)
	defer cleanup()

	_, err := store.Call(context.Background(), "search_by_type", map[string]string{})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestLocalStore_FindPatientMatchesNameAndIdentifier(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	rows := contentRows(
		`{"resourceType":"Patient","id":"p1","name":[{"family":"Patient_10000032"}]}`,
		`{"resourceType":"Patient","id":"p2","name":[{"family":"Other"}],"identifier":[{"value":"99"}]}`,
	)
	mock.ExpectQuery(`SELECT content FROM fhir_resources WHERE resource_type = 'Patient'`).
		WillReturnRows(rows)

	results, err := store.Call(context.Background(), "find_patient", map[string]string{
		"query": "10000032",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalStore_ActiveConditionsFilter(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	mock.ExpectQuery(`resource_type = 'Condition'`).
		WithArgs("Patient/p1").
		WillReturnRows(contentRows(`{"resourceType":"Condition","id":"c1"}`))

	results, err := store.Call(context.Background(), "get_patient_conditions", map[string]string{
		"patient_id": "p1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalStore_VitalSignsFiltersByCategory(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	mock.ExpectQuery(`resource_type = \$1 AND content`).
		WithArgs("Observation", "Patient/p1").
		WillReturnRows(contentRows(
			`{"resourceType":"Observation","id":"o1","category":[{"coding":[{"code":"vital-signs"}]}]}`,
			`{"resourceType":"Observation","id":"o2","category":[{"coding":[{"code":"laboratory"}]}]}`,
		))

	results, err := store.Call(context.Background(), "get_vital_signs", map[string]string{
		"patient_id": "p1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "o1", results[0]["id"])
}

func TestLocalStore_CamelCaseToolName(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT content FROM fhir_resources WHERE id = \$1`).
		WithArgs("obs-1").
		WillReturnRows(contentRows(`{"resourceType":"Observation","id":"obs-1"}`))

	results, err := store.Call(context.Background(), "searchById", map[string]string{
		"resource_id": "obs-1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestLocalStore_ClinicalQuery(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	mock.ExpectQuery(`WHERE resource_type = \$1`).
		WithArgs("Condition").
		WillReturnRows(contentRows(
			`{"resourceType":"Condition","id":"c1","code":{"text":"Condition:sepsis syndrome"}}`,
			`{"resourceType":"Condition","id":"c2","code":{"text":"hypertension"}}`,
		))

	results, err := store.Call(context.Background(), "clinical_query", map[string]string{
		"query": "Condition:sepsis",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0]["id"])
}

func TestLocalStore_ResourceTypes(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"resource_type"}).
		AddRow("Patient").
		AddRow("Observation")
	mock.ExpectQuery(`SELECT DISTINCT resource_type`).WillReturnRows(rows)

	results, err := store.Call(context.Background(), "get_resource_types", map[string]string{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Patient", results[0]["resource_type"])
}

func TestLocalStore_UnknownTool(t *testing.T) {
	store, _, cleanup := setupLocalStore(t)
	defer cleanup()

	_, err := store.Call(context.Background(), "drop_all_tables", nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestLocalStore_QueryErrorIsTransient(t *testing.T) {
	store, mock, cleanup := setupLocalStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT content FROM fhir_resources`).
		WillReturnError(assert.AnError)

	_, err := store.Call(context.Background(), "get_all_resources", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
