package fhirstore

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
)

// RemoteStore serves tool calls against a FHIR R4 REST endpoint.
type RemoteStore struct {
	endpoint         string
	identifierSystem string
	patientProfile   string
	authToken        string
	client           *http.Client
	logger           *logger.Logger
	now              func() time.Time
}

// NewRemoteStore creates a store that queries the configured FHIR endpoint.
func NewRemoteStore(cfg *config.FHIRConfig, log *logger.Logger) *RemoteStore {
	return &RemoteStore{
		endpoint:         strings.TrimRight(cfg.Endpoint, "/"),
		identifierSystem: cfg.IdentifierSystem,
		patientProfile:   cfg.PatientProfile,
		authToken:        cfg.AuthToken,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		logger: log,
		now:    time.Now,
	}
}

// Call dispatches a tool invocation to the matching endpoint query.
func (s *RemoteStore) Call(ctx context.Context, tool string, params map[string]string) ([]Resource, error) {
	tool = NormalizeTool(tool)
	s.logger.WithField("tool", tool).Debug("Remote store tool call")

	switch tool {
	case ToolFindPatient:
		return s.findPatient(ctx, params["query"])
	case ToolSearchByType:
		return s.searchByType(ctx, params)
	case ToolSearchByID:
		return s.searchByID(ctx, params)
	case ToolSearchByText:
		return s.request(ctx, tool, "/Patient", url.Values{
			"_content": {params["query"]},
			"_count":   {"100"},
		})
	case ToolPatientObservations:
		return s.patientObservations(ctx, params)
	case ToolPatientConditions:
		return s.patientResource(ctx, "Condition", params)
	case ToolPatientMedications, ToolMedicationsHistory:
		return s.patientResource(ctx, "MedicationRequest", params)
	case ToolPatientEncounters:
		return s.patientResource(ctx, "Encounter", params)
	case ToolPatientAllergies:
		return s.patientResource(ctx, "AllergyIntolerance", params)
	case ToolPatientProcedures:
		return s.patientResource(ctx, "Procedure", params)
	case ToolPatientCareTeam:
		return s.patientResource(ctx, "CareTeam", params)
	case ToolPatientCarePlans:
		return s.patientResource(ctx, "CarePlan", params)
	case ToolVitalSigns:
		withCategory := cloneParams(params)
		withCategory["category"] = "vital-signs"
		return s.patientObservations(ctx, withCategory)
	case ToolLabResults:
		withCategory := cloneParams(params)
		withCategory["category"] = "laboratory"
		return s.patientObservations(ctx, withCategory)
	case ToolClinicalQuery:
		resourceType := strings.SplitN(params["query"], ":", 2)[0]
		return s.request(ctx, tool, "/"+resourceType, url.Values{
			"_content": {params["query"]},
			"_count":   {"100"},
		})
	case ToolResourceByTypeAndID:
		return s.resourceByTypeAndID(ctx, params)
	case ToolAllResources:
		return nil, permanentErr(tool, "full export is not supported against a remote endpoint")
	case ToolResourceTypes:
		return s.resourceTypes(ctx)
	default:
		return nil, permanentErr(tool, "unknown tool")
	}
}

// request performs a GET against the endpoint, unwraps bundles, and applies
// the status-code policy: 404 is an empty result, 400/403 are permanent
// failures, everything else non-200 is transient.
func (s *RemoteStore) request(ctx context.Context, op, path string, query url.Values) ([]Resource, error) {
	reqURL := s.endpoint + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, permanentErr(op, fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Accept", "application/fhir+json")
	req.Header.Set("Content-Type", "application/fhir+json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transientErr(op, "endpoint request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		s.logger.WithField("url", reqURL).Debug("Resource not found, returning empty result")
		return []Resource{}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, permanentErr(op, "invalid query parameters")
	case resp.StatusCode == http.StatusForbidden:
		return nil, permanentErr(op, "access denied to FHIR endpoint")
	case resp.StatusCode != http.StatusOK:
		return nil, transientErr(op, fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") && !strings.Contains(contentType, "application/fhir+json") {
		return nil, permanentErr(op, fmt.Sprintf("unexpected content type %q", contentType))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr(op, "reading response body", err)
	}

	var data Resource
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, permanentErr(op, "invalid JSON response")
	}

	return s.unwrap(op, data)
}

func (s *RemoteStore) unwrap(op string, data Resource) ([]Resource, error) {
	resourceType, _ := data["resourceType"].(string)

	switch resourceType {
	case "Bundle":
		entries, _ := data["entry"].([]interface{})
		resources := make([]Resource, 0, len(entries))
		retrievedAt := s.now().Format(time.RFC3339)
		for _, e := range entries {
			entry, _ := e.(map[string]interface{})
			resource, ok := entry["resource"].(map[string]interface{})
			if !ok {
				continue
			}
			resource["_retrieved_at"] = retrievedAt
			resources = append(resources, resource)
		}
		return resources, nil
	case "OperationOutcome":
		issues, _ := data["issue"].([]interface{})
		var diagnostics []string
		fatal := false
		for _, i := range issues {
			issue, _ := i.(map[string]interface{})
			severity, _ := issue["severity"].(string)
			if severity == "error" || severity == "fatal" {
				fatal = true
				if d, _ := issue["diagnostics"].(string); d != "" {
					diagnostics = append(diagnostics, d)
				}
			}
		}
		if fatal {
			return nil, permanentErr(op, "FHIR error: "+strings.Join(diagnostics, "; "))
		}
		return []Resource{}, nil
	case "":
		return nil, permanentErr(op, "response is not a FHIR resource")
	default:
		data["_retrieved_at"] = s.now().Format(time.RFC3339)
		return []Resource{data}, nil
	}
}

// findPatient runs a chain of search strategies and falls back to a
// synthetic placeholder patient so the conversation never dead-ends on a
// failed lookup.
func (s *RemoteStore) findPatient(ctx context.Context, query string) ([]Resource, error) {
	query = strings.TrimSpace(query)
	s.logger.WithField("query", query).Info("Patient search")

	if isDigits(query) {
		results, err := s.request(ctx, ToolFindPatient, "/Patient", url.Values{
			"identifier": {s.identifierSystem + "|" + query},
			"_count":     {"20"},
		})
		if err == nil && len(results) > 0 {
			return results, nil
		}
	}

	results, err := s.request(ctx, ToolFindPatient, "/Patient", url.Values{
		"name":   {query},
		"_count": {"20"},
	})
	if err == nil && len(results) > 0 {
		return results, nil
	}

	if !strings.HasPrefix(query, "Patient_") {
		results, err = s.request(ctx, ToolFindPatient, "/Patient", url.Values{
			"name:contains": {"Patient_" + query},
			"_count":        {"20"},
		})
		if err == nil && len(results) > 0 {
			return results, nil
		}
	}

	results, err = s.request(ctx, ToolFindPatient, "/Patient", url.Values{
		"_content": {query},
		"_count":   {"20"},
	})
	if err == nil && len(results) > 0 {
		return results, nil
	}

	s.logger.WithField("query", query).Warn("No patient found, returning synthetic patient")
	return []Resource{s.syntheticPatient(query)}, nil
}

func (s *RemoteStore) syntheticPatient(query string) Resource {
	h := fnv.New32a()
	h.Write([]byte(query))
	syntheticID := fmt.Sprintf("synthetic-%d", h.Sum32()%10000000)

	family := query
	var given []string
	if parts := strings.Fields(query); len(parts) > 1 {
		family = parts[len(parts)-1]
		given = parts[:len(parts)-1]
	}

	return Resource{
		"resourceType": "Patient",
		"id":           syntheticID,
		"identifier": []interface{}{
			map[string]interface{}{"system": s.identifierSystem, "value": syntheticID},
		},
		"name": []interface{}{
			map[string]interface{}{"use": "official", "family": family, "given": given},
		},
		"gender":        "unknown",
		"_retrieved_at": s.now().Format(time.RFC3339),
		"_synthetic":    true,
	}
}

func (s *RemoteStore) searchByType(ctx context.Context, params map[string]string) ([]Resource, error) {
	resourceType := strings.TrimSpace(params["resource_type"])
	if resourceType == "" {
		return nil, permanentErr(ToolSearchByType, "resource_type parameter required")
	}

	query := url.Values{
		"_count": {orDefault(params["count"], "100")},
		"_sort":  {orDefault(params["sort"], "id")},
	}
	if resourceType == "Patient" && s.patientProfile != "" {
		query.Set("_profile", s.patientProfile)
	}
	return s.request(ctx, ToolSearchByType, "/"+resourceType, query)
}

// searchByID fetches the resource directly and falls back to a patient
// search when the direct lookup finds nothing.
func (s *RemoteStore) searchByID(ctx context.Context, params map[string]string) ([]Resource, error) {
	resourceID := strings.TrimSpace(params["resource_id"])
	resourceType := orDefault(strings.TrimSpace(params["resource_type"]), "Patient")
	if resourceID == "" {
		return nil, permanentErr(ToolSearchByID, "resource_id parameter required")
	}

	results, err := s.request(ctx, ToolSearchByID, "/"+resourceType+"/"+resourceID, nil)
	if err == nil && len(results) > 0 {
		return results, nil
	}
	if err != nil {
		return nil, err
	}
	return s.findPatient(ctx, resourceID)
}

func (s *RemoteStore) patientObservations(ctx context.Context, params map[string]string) ([]Resource, error) {
	patientID := strings.TrimSpace(params["patient_id"])
	if patientID == "" {
		return nil, permanentErr(ToolPatientObservations, "patient_id parameter required")
	}

	query := url.Values{
		"patient": {"Patient/" + patientID},
		"_count":  {orDefault(params["count"], "100")},
		"_sort":   {"-date"},
	}
	if category := params["category"]; category != "" {
		query.Set("category", category)
	}
	return s.request(ctx, ToolPatientObservations, "/Observation", query)
}

func (s *RemoteStore) patientResource(ctx context.Context, resourceType string, params map[string]string) ([]Resource, error) {
	patientID := strings.TrimSpace(params["patient_id"])
	if patientID == "" {
		return nil, permanentErr(CamelToSnake(resourceType), "patient_id parameter required")
	}

	query := url.Values{
		"patient": {"Patient/" + patientID},
		"_count":  {orDefault(params["count"], "100")},
		"_sort":   {orDefault(params["sort"], "-_lastUpdated")},
	}
	// Only active records are useful in conversation for these types.
	switch resourceType {
	case "Condition", "MedicationRequest", "CarePlan":
		query.Set("status", "active")
	}
	return s.request(ctx, CamelToSnake(resourceType), "/"+resourceType, query)
}

func (s *RemoteStore) resourceByTypeAndID(ctx context.Context, params map[string]string) ([]Resource, error) {
	resourceType := strings.TrimSpace(params["resource_type"])
	resourceID := strings.TrimSpace(params["resource_id"])
	if resourceType == "" || resourceID == "" {
		return nil, permanentErr(ToolResourceByTypeAndID, "resource_type and resource_id parameters required")
	}
	return s.request(ctx, ToolResourceByTypeAndID, "/"+resourceType+"/"+resourceID, nil)
}

// resourceTypes reports the server capability statement resource list.
func (s *RemoteStore) resourceTypes(ctx context.Context) ([]Resource, error) {
	results, err := s.request(ctx, ToolResourceTypes, "/metadata", nil)
	if err != nil {
		return nil, err
	}

	types := make([]Resource, 0)
	for _, capability := range results {
		rests, _ := capability["rest"].([]interface{})
		for _, r := range rests {
			rest, _ := r.(map[string]interface{})
			resources, _ := rest["resource"].([]interface{})
			for _, res := range resources {
				rm, _ := res.(map[string]interface{})
				if t, _ := rm["type"].(string); t != "" {
					types = append(types, Resource{"resource_type": t})
				}
			}
		}
	}
	return types, nil
}

func cloneParams(params map[string]string) map[string]string {
	cloned := make(map[string]string, len(params)+1)
	for k, v := range params {
		cloned[k] = v
	}
	return cloned
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
