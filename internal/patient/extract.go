package patient

import "time"

// Generic accessors for decoded FHIR JSON. Malformed or missing fields
// degrade to zero values so partial resources never abort ingestion.

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	v, _ := m[key].(map[string]interface{})
	return v
}

func getSlice(m map[string]interface{}, key string) []interface{} {
	v, _ := m[key].([]interface{})
	return v
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// codeableConceptDisplay extracts display text from a CodeableConcept:
// text first, then the first coding display, then the first coding code.
func codeableConceptDisplay(concept map[string]interface{}) string {
	if len(concept) == 0 {
		return ""
	}
	if text := getString(concept, "text"); text != "" {
		return text
	}
	for _, c := range getSlice(concept, "coding") {
		coding := asMap(c)
		if display := getString(coding, "display"); display != "" {
			return display
		}
		if code := getString(coding, "code"); code != "" {
			return code
		}
	}
	return ""
}

// codingDisplay extracts display (or code) from the first coding entry.
func codingDisplay(concept map[string]interface{}) string {
	codings := getSlice(concept, "coding")
	if len(codings) == 0 {
		return ""
	}
	coding := asMap(codings[0])
	if display := getString(coding, "display"); display != "" {
		return display
	}
	return getString(coding, "code")
}

// numericValue pulls a float out of a Quantity value field.
func numericValue(quantity map[string]interface{}) (float64, bool) {
	if len(quantity) == 0 {
		return 0, false
	}
	switch v := quantity["value"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

var fhirTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// parseFHIRTime parses FHIR date and dateTime strings at any precision.
func parseFHIRTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range fhirTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
