package fhirstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRemoteStore(t *testing.T, handler http.Handler) (*RemoteStore, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := NewRemoteStore(&config.FHIRConfig{
		Endpoint:         server.URL,
		RequestTimeout:   5,
		IdentifierSystem: "http://fhir.example.org/identifier/patient",
		PatientProfile:   "http://fhir.example.org/StructureDefinition/patient",
	}, logger.New("fhirstore-test", "debug"))
	return store, server
}

func writeBundle(w http.ResponseWriter, resources ...map[string]interface{}) {
	entries := make([]map[string]interface{}, 0, len(resources))
	for _, r := range resources {
		entries = append(entries, map[string]interface{}{"resource": r})
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"resourceType": "Bundle",
		"entry":        entries,
	})
}

func TestRemoteStore_BundleUnwrap(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/fhir+json", r.Header.Get("Accept"))
		writeBundle(w,
			map[string]interface{}{"resourceType": "Observation", "id": "o1"},
			map[string]interface{}{"resourceType": "Observation", "id": "o2"},
		)
	}))

	results, err := store.Call(context.Background(), "get_patient_observations", map[string]string{
		"patient_id": "p1",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "o1", results[0]["id"])
	assert.NotEmpty(t, results[0]["_retrieved_at"])
}

func TestRemoteStore_NotFoundIsEmpty(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	results, err := store.Call(context.Background(), "get_patient_conditions", map[string]string{
		"patient_id": "missing",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRemoteStore_BadRequestIsPermanent(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := store.Call(context.Background(), "search_by_type", map[string]string{
		"resource_type": "Observation",
	})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestRemoteStore_ServerErrorIsTransient(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := store.Call(context.Background(), "search_by_type", map[string]string{
		"resource_type": "Observation",
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRemoteStore_OperationOutcomeError(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "OperationOutcome",
			"issue": []map[string]interface{}{
				{"severity": "error", "diagnostics": "search parameter rejected"},
			},
		})
	}))

	_, err := store.Call(context.Background(), "search_by_type", map[string]string{
		"resource_type": "Observation",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search parameter rejected")
}

func TestRemoteStore_FindPatientStrategyChain(t *testing.T) {
	var queries []string
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		switch {
		case r.URL.Query().Get("identifier") != "":
			// Identifier search misses.
			writeBundle(w)
		case r.URL.Query().Get("name") != "":
			writeBundle(w, map[string]interface{}{
				"resourceType": "Patient", "id": "p-found",
			})
		default:
			writeBundle(w)
		}
	}))

	results, err := store.Call(context.Background(), "find_patient", map[string]string{
		"query": "10000032",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p-found", results[0]["id"])

	// Numeric query tries the identifier search first, then name.
	require.Len(t, queries, 2)
	assert.Contains(t, queries[0], "identifier=")
	assert.Contains(t, queries[1], "name=")
}

func TestRemoteStore_FindPatientSyntheticFallback(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBundle(w)
	}))

	results, err := store.Call(context.Background(), "find_patient", map[string]string{
		"query": "nobody at all",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Patient", results[0]["resourceType"])
	assert.Equal(t, true, results[0]["_synthetic"])

	names, ok := results[0]["name"].([]interface{})
	require.True(t, ok)
	name := names[0].(map[string]interface{})
	assert.Equal(t, "all", name["family"])
}

func TestRemoteStore_SearchByIDDirectHit(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Patient/p1", r.URL.Path)
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Patient", "id": "p1",
		})
	}))

	results, err := store.Call(context.Background(), "search_by_id", map[string]string{
		"resource_id": "p1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0]["id"])
}

func TestRemoteStore_PatientProfileFilter(t *testing.T) {
	store, _ := newRemoteStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("_profile"))
		writeBundle(w)
	}))

	_, err := store.Call(context.Background(), "search_by_type", map[string]string{
		"resource_type": "Patient",
	})
	require.NoError(t, err)
}
