package fhirstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medvoice/voice-emr/pkg/logger"
)

// LocalStore serves tool calls from a Postgres fhir_resources table. Rows
// hold the raw resource JSON in a jsonb column keyed by resource id.
type LocalStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewLocalStore creates a store backed by the given database handle.
func NewLocalStore(db *sql.DB, log *logger.Logger) *LocalStore {
	return &LocalStore{
		db:     db,
		logger: log,
	}
}

// Call dispatches a tool invocation to the matching query.
func (s *LocalStore) Call(ctx context.Context, tool string, params map[string]string) ([]Resource, error) {
	tool = NormalizeTool(tool)
	s.logger.WithField("tool", tool).Debug("Local store tool call")

	switch tool {
	case ToolSearchByType:
		return s.searchByType(ctx, params["resource_type"])
	case ToolSearchByID:
		return s.searchByID(ctx, params["resource_id"])
	case ToolSearchByText:
		return s.searchByText(ctx, params["query"])
	case ToolFindPatient:
		return s.findPatient(ctx, params["query"])
	case ToolPatientObservations:
		return s.patientResources(ctx, "Observation", params["patient_id"])
	case ToolPatientConditions:
		return s.activeConditions(ctx, params["patient_id"])
	case ToolPatientMedications, ToolMedicationsHistory:
		return s.activeMedications(ctx, params["patient_id"])
	case ToolPatientEncounters:
		return s.patientResources(ctx, "Encounter", params["patient_id"])
	case ToolPatientAllergies:
		return s.patientAllergies(ctx, params["patient_id"])
	case ToolPatientProcedures:
		return s.patientResources(ctx, "Procedure", params["patient_id"])
	case ToolPatientCareTeam:
		return s.patientResources(ctx, "CareTeam", params["patient_id"])
	case ToolPatientCarePlans:
		return s.activeCarePlans(ctx, params["patient_id"])
	case ToolVitalSigns:
		return s.observationsByCategory(ctx, params["patient_id"], "vital-signs")
	case ToolLabResults:
		return s.observationsByCategory(ctx, params["patient_id"], "laboratory")
	case ToolClinicalQuery:
		return s.clinicalQuery(ctx, params["query"])
	case ToolResourceByTypeAndID:
		return s.resourceByTypeAndID(ctx, params["resource_type"], params["resource_id"])
	case ToolAllResources:
		return s.allResources(ctx)
	case ToolResourceTypes:
		return s.resourceTypes(ctx)
	default:
		return nil, permanentErr(tool, "unknown tool")
	}
}

func (s *LocalStore) queryResources(ctx context.Context, op, query string, args ...interface{}) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transientErr(op, "query failed", err)
	}
	defer rows.Close()

	resources := make([]Resource, 0)
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, transientErr(op, "row scan failed", err)
		}
		var resource Resource
		if err := json.Unmarshal(content, &resource); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable resource row")
			continue
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr(op, "row iteration failed", err)
	}
	return resources, nil
}

func (s *LocalStore) searchByType(ctx context.Context, resourceType string) ([]Resource, error) {
	if resourceType == "" {
		return nil, permanentErr(ToolSearchByType, "resource_type parameter required")
	}
	return s.queryResources(ctx, ToolSearchByType,
		`SELECT content FROM fhir_resources WHERE resource_type = $1`, resourceType)
}

func (s *LocalStore) searchByID(ctx context.Context, resourceID string) ([]Resource, error) {
	if resourceID == "" {
		return nil, permanentErr(ToolSearchByID, "resource_id parameter required")
	}
	return s.queryResources(ctx, ToolSearchByID,
		`SELECT content FROM fhir_resources WHERE id = $1`, resourceID)
}

func (s *LocalStore) searchByText(ctx context.Context, query string) ([]Resource, error) {
	if query == "" {
		return nil, permanentErr(ToolSearchByText, "query parameter required")
	}
	return s.queryResources(ctx, ToolSearchByText,
		`SELECT content FROM fhir_resources WHERE content::text ILIKE '%' || $1 || '%' LIMIT 100`, query)
}

// findPatient scans Patient rows and matches the query against name,
// birth date, and identifiers.
func (s *LocalStore) findPatient(ctx context.Context, query string) ([]Resource, error) {
	patients, err := s.queryResources(ctx, ToolFindPatient,
		`SELECT content FROM fhir_resources WHERE resource_type = 'Patient'`)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	matches := make([]Resource, 0)
	for _, p := range patients {
		haystack := strings.ToLower(fmt.Sprintf("%v %v %v", p["name"], p["birthDate"], p["identifier"]))
		if q != "" && strings.Contains(haystack, q) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (s *LocalStore) patientResources(ctx context.Context, resourceType, patientID string) ([]Resource, error) {
	if patientID == "" {
		return nil, permanentErr(CamelToSnake(resourceType), "patient_id parameter required")
	}
	return s.queryResources(ctx, CamelToSnake(resourceType),
		`SELECT content FROM fhir_resources
		 WHERE resource_type = $1 AND content->'subject'->>'reference' = $2`,
		resourceType, "Patient/"+patientID)
}

func (s *LocalStore) activeConditions(ctx context.Context, patientID string) ([]Resource, error) {
	if patientID == "" {
		return nil, permanentErr(ToolPatientConditions, "patient_id parameter required")
	}
	return s.queryResources(ctx, ToolPatientConditions,
		`SELECT content FROM fhir_resources
		 WHERE resource_type = 'Condition'
		   AND content->'subject'->>'reference' = $1
		   AND content->'clinicalStatus'->'coding'->0->>'code' = 'active'`,
		"Patient/"+patientID)
}

func (s *LocalStore) activeMedications(ctx context.Context, patientID string) ([]Resource, error) {
	if patientID == "" {
		return nil, permanentErr(ToolPatientMedications, "patient_id parameter required")
	}
	return s.queryResources(ctx, ToolPatientMedications,
		`SELECT content FROM fhir_resources
		 WHERE resource_type = 'MedicationRequest'
		   AND content->'subject'->>'reference' = $1
		   AND content->>'status' = 'active'`,
		"Patient/"+patientID)
}

// Allergy resources reference the patient through the patient field rather
// than subject.
func (s *LocalStore) patientAllergies(ctx context.Context, patientID string) ([]Resource, error) {
	if patientID == "" {
		return nil, permanentErr(ToolPatientAllergies, "patient_id parameter required")
	}
	return s.queryResources(ctx, ToolPatientAllergies,
		`SELECT content FROM fhir_resources
		 WHERE resource_type = 'AllergyIntolerance'
		   AND content->'patient'->>'reference' = $1`,
		"Patient/"+patientID)
}

func (s *LocalStore) activeCarePlans(ctx context.Context, patientID string) ([]Resource, error) {
	if patientID == "" {
		return nil, permanentErr(ToolPatientCarePlans, "patient_id parameter required")
	}
	return s.queryResources(ctx, ToolPatientCarePlans,
		`SELECT content FROM fhir_resources
		 WHERE resource_type = 'CarePlan'
		   AND content->'subject'->>'reference' = $1
		   AND content->>'status' = 'active'`,
		"Patient/"+patientID)
}

func (s *LocalStore) observationsByCategory(ctx context.Context, patientID, category string) ([]Resource, error) {
	if patientID == "" {
		return nil, permanentErr(ToolPatientObservations, "patient_id parameter required")
	}
	observations, err := s.patientResources(ctx, "Observation", patientID)
	if err != nil {
		return nil, err
	}

	matches := make([]Resource, 0, len(observations))
	for _, obs := range observations {
		if observationHasCategory(obs, category) {
			matches = append(matches, obs)
		}
	}
	return matches, nil
}

func observationHasCategory(obs Resource, category string) bool {
	categories, _ := obs["category"].([]interface{})
	for _, c := range categories {
		cc, _ := c.(map[string]interface{})
		codings, _ := cc["coding"].([]interface{})
		for _, coding := range codings {
			cm, _ := coding.(map[string]interface{})
			if code, _ := cm["code"].(string); code == category {
				return true
			}
		}
	}
	return false
}

// clinicalQuery treats the text before the first colon as the resource type
// and then substring-matches the whole query against each resource.
func (s *LocalStore) clinicalQuery(ctx context.Context, query string) ([]Resource, error) {
	if query == "" {
		return nil, permanentErr(ToolClinicalQuery, "query parameter required")
	}
	resourceType := strings.SplitN(query, ":", 2)[0]
	candidates, err := s.queryResources(ctx, ToolClinicalQuery,
		`SELECT content FROM fhir_resources WHERE resource_type = $1`, resourceType)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	matches := make([]Resource, 0)
	for _, resource := range candidates {
		if strings.Contains(strings.ToLower(fmt.Sprintf("%v", resource)), q) {
			matches = append(matches, resource)
		}
	}
	return matches, nil
}

func (s *LocalStore) resourceByTypeAndID(ctx context.Context, resourceType, resourceID string) ([]Resource, error) {
	if resourceType == "" || resourceID == "" {
		return nil, permanentErr(ToolResourceByTypeAndID, "resource_type and resource_id parameters required")
	}
	return s.queryResources(ctx, ToolResourceByTypeAndID,
		`SELECT content FROM fhir_resources WHERE resource_type = $1 AND id = $2`,
		resourceType, resourceID)
}

func (s *LocalStore) allResources(ctx context.Context) ([]Resource, error) {
	return s.queryResources(ctx, ToolAllResources, `SELECT content FROM fhir_resources`)
}

func (s *LocalStore) resourceTypes(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT resource_type FROM fhir_resources`)
	if err != nil {
		return nil, transientErr(ToolResourceTypes, "query failed", err)
	}
	defer rows.Close()

	types := make([]Resource, 0)
	for rows.Next() {
		var rt string
		if err := rows.Scan(&rt); err != nil {
			return nil, transientErr(ToolResourceTypes, "row scan failed", err)
		}
		types = append(types, Resource{"resource_type": rt})
	}
	if err := rows.Err(); err != nil {
		return nil, transientErr(ToolResourceTypes, "row iteration failed", err)
	}
	return types, nil
}
