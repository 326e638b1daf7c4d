package session

// Tool catalogue advertised through promptStart. Input schemas ride as
// JSON-Schema strings inside inputSchema.json, the format the model
// expects.

const patientIDSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "patient_id": {
      "type": "string",
      "description": "Patient ID."
    }
  },
  "required": ["patient_id"]
}`

const emptySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {},
  "required": []
}`

func toolSpec(name, description, schema string) Event {
	return Event{"toolSpec": Event{
		"name":        name,
		"description": description,
		"inputSchema": Event{"json": schema},
	}}
}

// ToolConfig returns the full clinical tool catalogue.
func ToolConfig() Event {
	return Event{"tools": []interface{}{
		toolSpec("searchByType",
			"Return every FHIR resource of the specified type (e.g., Patient, Observation, Encounter).",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "resource_type": {
      "type": "string",
      "description": "FHIR resource type to search for."
    }
  },
  "required": ["resource_type"]
}`),
		toolSpec("searchById",
			"Fetch a specific FHIR resource by its logical ID.",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "resource_id": {
      "type": "string",
      "description": "The logical ID of the resource."
    }
  },
  "required": ["resource_id"]
}`),
		toolSpec("searchByText",
			"Full-text search across all stored FHIR JSON documents.",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Free-text search expression."
    }
  },
  "required": ["query"]
}`),
		toolSpec("findPatient",
			"Locate patients by name, birth date, or other demographic identifiers.",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Name fragment, DOB (YYYY-MM-DD), MRN, etc."
    }
  },
  "required": ["query"]
}`),
		toolSpec("getPatientObservations",
			"Retrieve Observation resources (vitals and labs) for a patient.",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "patient_id": {
      "type": "string",
      "description": "FHIR logical ID of the Patient resource."
    }
  },
  "required": ["patient_id"]
}`),
		toolSpec("getPatientConditions",
			"List active Condition resources for a patient.", patientIDSchema),
		toolSpec("getPatientMedications",
			"List current MedicationRequest / MedicationStatement items for the patient.", patientIDSchema),
		toolSpec("getPatientEncounters",
			"Return Encounter records (visits, admissions) for the patient.", patientIDSchema),
		toolSpec("getPatientAllergies",
			"Retrieve AllergyIntolerance resources for the patient.", patientIDSchema),
		toolSpec("getPatientProcedures",
			"Return Procedure resources for the patient.", patientIDSchema),
		toolSpec("getPatientCareTeam",
			"List CareTeam participants assigned to the patient.", patientIDSchema),
		toolSpec("getPatientCarePlans",
			"Fetch active CarePlan resources for the patient.", patientIDSchema),
		toolSpec("getVitalSigns",
			"Return classic vital-sign Observations (BP, HR, RR, Temp, O2Sat, Height, Weight, BMI).", patientIDSchema),
		toolSpec("getLabResults",
			"Return Observation resources categorised as laboratory results for the patient.", patientIDSchema),
		toolSpec("getMedicationsHistory",
			"Retrieve historic MedicationRequest / MedicationStatement entries for the patient.", patientIDSchema),
		toolSpec("executeClinicalQuery",
			`Run any raw FHIR search expression (e.g., "Condition?patient=12345&status=active").`,
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "A valid FHIR search query string."
    }
  },
  "required": ["query"]
}`),
		toolSpec("listResourceTypes",
			"Return an array of distinct FHIR resource types available in the database.", emptySchema),
		toolSpec("listAllResources",
			"Return every stored FHIR resource (use carefully, may be large).", emptySchema),
		toolSpec("getDateTool",
			"Return the current date and time in UTC.", emptySchema),
		toolSpec("getPatientData",
			"Return the aggregated clinical record for the patient loaded in this session.", emptySchema),
		toolSpec("scheduleFollowUp",
			"Schedule a follow-up appointment for a patient.",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "patient_id": {
      "type": "string",
      "description": "Patient ID."
    },
    "scheduled_time": {
      "type": "string",
      "description": "ISO-8601 datetime for the appointment."
    },
    "reason": {
      "type": "string",
      "description": "Reason for the follow-up."
    }
  },
  "required": ["patient_id", "scheduled_time"]
}`),
		toolSpec("differentialDiagnosis",
			"Generate a ranked differential diagnosis list from current symptoms and the loaded patient record.",
			`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "patient_id": {
      "type": "string",
      "description": "Patient ID."
    },
    "symptoms": {
      "type": "string",
      "description": "Current symptoms described by the clinician."
    }
  },
  "required": ["symptoms"]
}`),
	}}
}
