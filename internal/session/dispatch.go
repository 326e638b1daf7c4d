package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/medvoice/voice-emr/internal/diagnosis"
	"github.com/medvoice/voice-emr/internal/fhirstore"
	"github.com/medvoice/voice-emr/internal/patient"
	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

// toolErrorResult is spoken back to the user when a tool call cannot be
// completed. Kept deliberately generic so the model does not read internals
// aloud.
const toolErrorResult = "An error occurred while attempting to retrieve information related to the toolUse event."

// ToolDispatcher resolves toolUse events against the FHIR store and the
// in-memory patient state. Dispatch never returns an error: failures are
// folded into the result payload so the conversation keeps going.
type ToolDispatcher struct {
	store     fhirstore.Store
	patient   *patient.State
	diagnosis *diagnosis.Generator
	retry     config.RetryConfig
	sessionID string
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector
	tracing   *monitoring.TracingManager

	now   func() time.Time
	sleep func(time.Duration)
}

// NewToolDispatcher wires a dispatcher for one session. The diagnosis
// generator may be nil when no diagnosis model is configured.
func NewToolDispatcher(store fhirstore.Store, state *patient.State, gen *diagnosis.Generator,
	retry config.RetryConfig, sessionID string, log *logger.Logger,
	metrics *monitoring.MetricsCollector, tracing *monitoring.TracingManager) *ToolDispatcher {
	return &ToolDispatcher{
		store:     store,
		patient:   state,
		diagnosis: gen,
		retry:     retry,
		sessionID: sessionID,
		logger:    log,
		metrics:   metrics,
		tracing:   tracing,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Patient exposes the session's accumulated patient state.
func (d *ToolDispatcher) Patient() *patient.State {
	return d.patient
}

// Dispatch runs one tool call and returns the result payload for the
// toolResult event. A panicking tool yields the apology result instead of
// tearing the session down.
func (d *ToolDispatcher) Dispatch(ctx context.Context, toolName, toolUseID, rawContent string) (result map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithTool(toolName, toolUseID).WithField("panic", r).Error("Tool dispatch panicked")
			result = map[string]interface{}{"result": toolErrorResult}
		}
	}()

	start := d.now()
	tool := fhirstore.NormalizeTool(toolName)

	ctx, span := d.tracing.StartToolSpan(ctx, tool, toolUseID)

	params, err := parseToolContent(rawContent)
	if err != nil {
		d.logger.WithTool(tool, toolUseID).WithError(err).Warn("Unparseable tool content")
		d.finish(tool, start, false, span, err)
		return map[string]interface{}{"result": toolErrorResult}
	}

	switch {
	case tool == "get_date_tool":
		result = map[string]interface{}{"result": d.now().UTC().Format("Monday, 2006-01-02 15-04-05")}
	case tool == "get_patient_data":
		data := d.patient.ToMap()
		result = map[string]interface{}{"result": data, "patientData": data}
	case tool == "schedule_follow_up":
		result = d.scheduleFollowUp(params)
	case tool == "differential_diagnosis":
		result = d.differentialDiagnosis(ctx, params)
	case fhirstore.IsKnownTool(tool):
		result = d.callStore(ctx, tool, params)
	default:
		d.logger.WithTool(tool, toolUseID).Warn("Unknown tool requested")
		result = map[string]interface{}{"result": nil}
	}

	_, failed := result["error"]
	if r, ok := result["result"].(string); ok && r == toolErrorResult {
		failed = true
	}
	d.finish(tool, start, !failed, span, nil)
	return result
}

func (d *ToolDispatcher) finish(tool string, start time.Time, success bool, span trace.Span, err error) {
	monitoring.EndSpan(span, err)
	duration := d.now().Sub(start)
	d.metrics.RecordToolCall(tool, success, duration)
	d.logger.ToolCall(d.sessionID, tool, success, duration.Milliseconds(), nil)
}

func (d *ToolDispatcher) scheduleFollowUp(params map[string]string) map[string]interface{} {
	patientID := params["patient_id"]
	scheduledTime := params["scheduled_time"]
	if patientID == "" || scheduledTime == "" {
		return map[string]interface{}{"error": "patient_id and scheduled_time are required"}
	}

	reason := params["reason"]
	d.patient.ScheduleFollowUp(scheduledTime, reason)
	return map[string]interface{}{
		"result": map[string]interface{}{
			"patient_id":     patientID,
			"scheduled_time": scheduledTime,
			"reason":         reason,
		},
	}
}

func (d *ToolDispatcher) differentialDiagnosis(ctx context.Context, params map[string]string) map[string]interface{} {
	symptoms := params["symptoms"]
	if symptoms == "" {
		return map[string]interface{}{"error": "symptoms are required"}
	}
	if d.diagnosis == nil {
		return map[string]interface{}{"error": "no diagnosis model is configured"}
	}

	text, err := d.diagnosis.Generate(ctx, symptoms, d.patient.VoiceSummary())
	if err != nil {
		d.logger.WithError(err).Error("Differential diagnosis failed")
		return map[string]interface{}{"error": err.Error()}
	}
	return map[string]interface{}{"result": text}
}

// callStore runs a FHIR tool, feeding every returned resource into the
// patient state so follow-up questions have context.
func (d *ToolDispatcher) callStore(ctx context.Context, tool string, params map[string]string) map[string]interface{} {
	resources, err := d.callWithRetry(ctx, tool, params)
	if err != nil {
		d.logger.WithField("tool", tool).WithError(err).Error("FHIR tool call failed")
		return map[string]interface{}{"result": toolErrorResult}
	}

	if tool == fhirstore.ToolFindPatient {
		return d.findPatientResult(resources)
	}

	for _, res := range resources {
		d.patient.ParseResource(res)
	}
	return map[string]interface{}{
		"result":      resources,
		"patientData": d.patient.ToMap(),
	}
}

func (d *ToolDispatcher) findPatientResult(resources []fhirstore.Resource) map[string]interface{} {
	if len(resources) == 0 {
		if pid := d.patient.Demographics.PatientID; pid != "" {
			synthetic := fhirstore.Resource{
				"resourceType": "Patient",
				"id":           pid,
				"_synthetic":   true,
			}
			resources = []fhirstore.Resource{synthetic}
		}
	}
	if len(resources) > 0 {
		d.patient.ParseResource(resources[0])
	}
	return map[string]interface{}{
		"result":      resources,
		"patientData": d.patient.ToMap(),
	}
}

// callWithRetry retries transient store failures with a linear backoff.
// Permanent failures and context cancellation fail immediately.
func (d *ToolDispatcher) callWithRetry(ctx context.Context, tool string, params map[string]string) ([]fhirstore.Resource, error) {
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		resources, err := d.store.Call(ctx, tool, params)
		if err == nil {
			return resources, nil
		}
		lastErr = err
		if !fhirstore.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < d.retry.MaxAttempts {
			d.logger.WithField("tool", tool).WithField("attempt", attempt).
				WithError(err).Warn("Retrying transient tool failure")
			d.sleep(d.retry.Backoff() * time.Duration(attempt))
		}
	}
	return nil, lastErr
}

// parseToolContent decodes the toolUse content payload into flat string
// parameters. Nested values are flattened with fmt.
func parseToolContent(rawContent string) (map[string]string, error) {
	if rawContent == "" {
		return map[string]string{}, nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(rawContent), &decoded); err != nil {
		return nil, fmt.Errorf("decoding tool content: %w", err)
	}

	params := make(map[string]string, len(decoded))
	for key, value := range decoded {
		if value == nil {
			continue
		}
		params[key] = fmt.Sprintf("%v", value)
	}
	return params, nil
}
