// Package fhirstore provides read access to FHIR R4 resources through a
// closed set of named tools. Two implementations exist: a local Postgres
// store and a remote FHIR REST endpoint.
package fhirstore

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Resource is a decoded FHIR resource.
type Resource = map[string]interface{}

// Store answers tool calls against a FHIR resource backend.
type Store interface {
	Call(ctx context.Context, tool string, params map[string]string) ([]Resource, error)
}

// StoreError is returned for backend failures. Transient errors (timeouts,
// 5xx responses) may be retried; permanent ones must not be.
type StoreError struct {
	Op        string
	Message   string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fhirstore %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("fhirstore %s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retriable store error.
func IsTransient(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Transient
}

func permanentErr(op, message string) *StoreError {
	return &StoreError{Op: op, Message: message}
}

func transientErr(op, message string, err error) *StoreError {
	return &StoreError{Op: op, Message: message, Transient: true, Err: err}
}

// Tool names accepted by Call. Model output sometimes arrives in camelCase;
// NormalizeTool folds it onto this set.
const (
	ToolSearchByType        = "search_by_type"
	ToolSearchByID          = "search_by_id"
	ToolSearchByText        = "search_by_text"
	ToolFindPatient         = "find_patient"
	ToolPatientObservations = "get_patient_observations"
	ToolPatientConditions   = "get_patient_conditions"
	ToolPatientMedications  = "get_patient_medications"
	ToolPatientEncounters   = "get_patient_encounters"
	ToolPatientAllergies    = "get_patient_allergies"
	ToolPatientProcedures   = "get_patient_procedures"
	ToolPatientCareTeam     = "get_patient_careteam"
	ToolPatientCarePlans    = "get_patient_careplans"
	ToolVitalSigns          = "get_vital_signs"
	ToolLabResults          = "get_lab_results"
	ToolMedicationsHistory  = "get_medications_history"
	ToolClinicalQuery       = "clinical_query"
	ToolResourceByTypeAndID = "get_resource_by_type_and_id"
	ToolAllResources        = "get_all_resources"
	ToolResourceTypes       = "get_resource_types"
)

var knownTools = map[string]bool{
	ToolSearchByType:        true,
	ToolSearchByID:          true,
	ToolSearchByText:        true,
	ToolFindPatient:         true,
	ToolPatientObservations: true,
	ToolPatientConditions:   true,
	ToolPatientMedications:  true,
	ToolPatientEncounters:   true,
	ToolPatientAllergies:    true,
	ToolPatientProcedures:   true,
	ToolPatientCareTeam:     true,
	ToolPatientCarePlans:    true,
	ToolVitalSigns:          true,
	ToolLabResults:          true,
	ToolMedicationsHistory:  true,
	ToolClinicalQuery:       true,
	ToolResourceByTypeAndID: true,
	ToolAllResources:        true,
	ToolResourceTypes:       true,
}

// aliases maps historical tool spellings onto the canonical names.
var aliases = map[string]string{
	"get_patient_medication": ToolPatientMedications,
	"execute_clinical_query": ToolClinicalQuery,
	"list_all_resources":     ToolAllResources,
	"list_resource_types":    ToolResourceTypes,
}

// NormalizeTool converts camelCase tool names to snake_case and resolves
// known aliases. Unknown names pass through unchanged so the caller can
// report them.
func NormalizeTool(name string) string {
	snake := CamelToSnake(strings.TrimSpace(name))
	if canonical, ok := aliases[snake]; ok {
		return canonical
	}
	return snake
}

// IsKnownTool reports whether name (after normalization) is a store tool.
func IsKnownTool(name string) bool {
	return knownTools[NormalizeTool(name)]
}

// CamelToSnake converts camelCase identifiers to snake_case. Already
// snake_case input is returned unchanged.
func CamelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
