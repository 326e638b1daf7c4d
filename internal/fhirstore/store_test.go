package fhirstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCamelToSnake(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"getPatientData", "get_patient_data"},
		{"searchByType", "search_by_type"},
		{"find_patient", "find_patient"},
		{"toolResult", "tool_result"},
		{"", ""},
		{"Patient", "patient"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CamelToSnake(tt.input))
	}
}

func TestNormalizeTool(t *testing.T) {
	assert.Equal(t, ToolFindPatient, NormalizeTool("findPatient"))
	assert.Equal(t, ToolFindPatient, NormalizeTool(" find_patient "))
	assert.Equal(t, ToolPatientMedications, NormalizeTool("getPatientMedication"))
	assert.Equal(t, ToolAllResources, NormalizeTool("list_all_resources"))
	assert.Equal(t, "made_up_tool", NormalizeTool("madeUpTool"))
}

func TestIsKnownTool(t *testing.T) {
	assert.True(t, IsKnownTool("get_vital_signs"))
	assert.True(t, IsKnownTool("getLabResults"))
	assert.False(t, IsKnownTool("get_date_tool"))
	assert.False(t, IsKnownTool("schedule_follow_up"))
}

func TestStoreError(t *testing.T) {
	err := permanentErr("find_patient", "bad input")
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "find_patient")

	terr := transientErr("search_by_type", "timeout", nil)
	assert.True(t, IsTransient(terr))
}
