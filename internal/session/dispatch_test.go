package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvoice/voice-emr/internal/fhirstore"
	"github.com/medvoice/voice-emr/internal/patient"
	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

// fakeStore scripts Call responses per invocation.
type fakeStore struct {
	calls     []storeCall
	responses []storeResponse
}

type storeCall struct {
	tool   string
	params map[string]string
}

type storeResponse struct {
	resources []fhirstore.Resource
	err       error
}

func (f *fakeStore) Call(_ context.Context, tool string, params map[string]string) ([]fhirstore.Resource, error) {
	f.calls = append(f.calls, storeCall{tool: tool, params: params})
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.resources, resp.err
}

func newTestDispatcher(t *testing.T, store fhirstore.Store, patientID string) *ToolDispatcher {
	t.Helper()
	log := logger.New("session-test", "error")
	d := NewToolDispatcher(store, patient.New(patientID, log), nil,
		config.RetryConfig{MaxAttempts: 2, BackoffMillis: 1},
		"sess-1", log, monitoring.NewMetricsCollector("session-test"),
		monitoring.NewTracingManager("session-test"))
	d.sleep = func(time.Duration) {}
	return d
}

func TestDispatchMalformedContent(t *testing.T) {
	d := newTestDispatcher(t, &fakeStore{}, "")

	result := d.Dispatch(context.Background(), "findPatient", "tu-1", "{not json")

	assert.Equal(t, toolErrorResult, result["result"])
	assert.Empty(t, d.Patient().Clinical.Conditions)
}

func TestDispatchDateTool(t *testing.T) {
	d := newTestDispatcher(t, &fakeStore{}, "")
	d.now = func() time.Time {
		return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	}

	result := d.Dispatch(context.Background(), "getDateTool", "tu-1", "{}")

	assert.Equal(t, "Friday, 2024-03-15 09-30-00", result["result"])
}

func TestDispatchScheduleFollowUp(t *testing.T) {
	d := newTestDispatcher(t, &fakeStore{}, "p1")

	missing := d.Dispatch(context.Background(), "scheduleFollowUp", "tu-1",
		`{"patient_id": "p1"}`)
	assert.Contains(t, missing, "error")
	assert.Empty(t, d.Patient().FollowUps)

	ok := d.Dispatch(context.Background(), "scheduleFollowUp", "tu-2",
		`{"patient_id": "p1", "scheduled_time": "2024-04-01T10:00:00Z", "reason": "wound check"}`)
	booked, isMap := ok["result"].(map[string]interface{})
	require.True(t, isMap)
	assert.Equal(t, "wound check", booked["reason"])
	require.Len(t, d.Patient().FollowUps, 1)
}

func TestDispatchStoreToolParsesResources(t *testing.T) {
	store := &fakeStore{responses: []storeResponse{{
		resources: []fhirstore.Resource{
			{
				"resourceType": "Condition",
				"id":           "c1",
				"code": map[string]interface{}{
					"coding": []interface{}{map[string]interface{}{"display": "Sepsis"}},
				},
				"subject": map[string]interface{}{"reference": "Patient/p1"},
			},
		},
	}}}
	d := newTestDispatcher(t, store, "p1")

	result := d.Dispatch(context.Background(), "getPatientConditions", "tu-1",
		`{"patient_id": "p1"}`)

	require.Len(t, store.calls, 1)
	assert.Equal(t, "get_patient_conditions", store.calls[0].tool)
	assert.Equal(t, "p1", store.calls[0].params["patient_id"])

	resources, isList := result["result"].([]fhirstore.Resource)
	require.True(t, isList)
	assert.Len(t, resources, 1)
	assert.Contains(t, result, "patientData")
	require.Len(t, d.Patient().Clinical.Conditions, 1)
}

func TestDispatchFindPatientAdoptsFirstMatch(t *testing.T) {
	store := &fakeStore{responses: []storeResponse{{
		resources: []fhirstore.Resource{
			{"resourceType": "Patient", "id": "p-42", "gender": "female"},
			{"resourceType": "Patient", "id": "p-43"},
		},
	}}}
	d := newTestDispatcher(t, store, "")

	result := d.Dispatch(context.Background(), "findPatient", "tu-1", `{"query": "smith"}`)

	assert.Equal(t, "p-42", d.Patient().Demographics.PatientID)
	assert.Equal(t, "female", d.Patient().Demographics.Gender)
	resources := result["result"].([]fhirstore.Resource)
	assert.Len(t, resources, 2)
}

func TestDispatchFindPatientSynthetic(t *testing.T) {
	store := &fakeStore{responses: []storeResponse{{resources: []fhirstore.Resource{}}}}
	d := newTestDispatcher(t, store, "known-id")

	result := d.Dispatch(context.Background(), "findPatient", "tu-1", `{"query": "nobody"}`)

	resources, isList := result["result"].([]fhirstore.Resource)
	require.True(t, isList)
	require.Len(t, resources, 1)
	assert.Equal(t, "known-id", resources[0]["id"])
	assert.Equal(t, true, resources[0]["_synthetic"])
}

func TestDispatchFindPatientNoFallbackWithoutID(t *testing.T) {
	store := &fakeStore{responses: []storeResponse{{resources: []fhirstore.Resource{}}}}
	d := newTestDispatcher(t, store, "")

	result := d.Dispatch(context.Background(), "findPatient", "tu-1", `{"query": "nobody"}`)

	resources, isList := result["result"].([]fhirstore.Resource)
	require.True(t, isList)
	assert.Empty(t, resources)
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	store := &fakeStore{responses: []storeResponse{
		{err: &fhirstore.StoreError{Op: "search", Message: "gateway", Transient: true}},
		{resources: []fhirstore.Resource{{"resourceType": "Observation", "id": "o1"}}},
	}}
	d := newTestDispatcher(t, store, "p1")

	result := d.Dispatch(context.Background(), "getPatientObservations", "tu-1",
		`{"patient_id": "p1"}`)

	assert.Len(t, store.calls, 2)
	resources := result["result"].([]fhirstore.Resource)
	assert.Len(t, resources, 1)
}

func TestDispatchPermanentFailureNoRetry(t *testing.T) {
	store := &fakeStore{responses: []storeResponse{
		{err: &fhirstore.StoreError{Op: "search", Message: "forbidden"}},
		{resources: []fhirstore.Resource{{"resourceType": "Observation"}}},
	}}
	d := newTestDispatcher(t, store, "p1")

	result := d.Dispatch(context.Background(), "getPatientObservations", "tu-1",
		`{"patient_id": "p1"}`)

	assert.Len(t, store.calls, 1)
	assert.Equal(t, toolErrorResult, result["result"])
}

func TestDispatchTransientExhaustion(t *testing.T) {
	transient := &fhirstore.StoreError{Op: "search", Message: "gateway", Transient: true}
	store := &fakeStore{responses: []storeResponse{{err: transient}, {err: transient}, {err: transient}}}
	d := newTestDispatcher(t, store, "p1")

	result := d.Dispatch(context.Background(), "searchByType", "tu-1",
		`{"resource_type": "Observation"}`)

	assert.Len(t, store.calls, 2)
	assert.Equal(t, toolErrorResult, result["result"])
}

type panickingStore struct{}

func (panickingStore) Call(context.Context, string, map[string]string) ([]fhirstore.Resource, error) {
	panic("store blew up")
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	d := newTestDispatcher(t, panickingStore{}, "p1")

	result := d.Dispatch(context.Background(), "searchByType", "tu-1",
		`{"resource_type": "Patient"}`)

	assert.Equal(t, toolErrorResult, result["result"])
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, &fakeStore{}, "")

	result := d.Dispatch(context.Background(), "launchMissiles", "tu-1", "{}")

	value, present := result["result"]
	require.True(t, present)
	assert.Nil(t, value)
}

func TestDispatchDiagnosisWithoutGenerator(t *testing.T) {
	d := newTestDispatcher(t, &fakeStore{}, "")

	result := d.Dispatch(context.Background(), "differentialDiagnosis", "tu-1",
		`{"symptoms": "fever and chills"}`)

	assert.Contains(t, result, "error")
}

func TestParseToolContentFlattens(t *testing.T) {
	params, err := parseToolContent(`{"query": "smith", "count": 3, "skip": null}`)

	require.NoError(t, err)
	assert.Equal(t, "smith", params["query"])
	assert.Equal(t, "3", params["count"])
	_, present := params["skip"]
	assert.False(t, present)
}

func TestParseToolContentEmpty(t *testing.T) {
	params, err := parseToolContent("")
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestParseToolContentInvalid(t *testing.T) {
	_, err := parseToolContent("not json")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
