// Package patient aggregates FHIR resources into a per-patient clinical
// state: demographics, categorized clinical records, a chronological
// timeline, and summary statistics suitable for voice responses.
package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/medvoice/voice-emr/pkg/logger"
)

// Demographics holds identity fields parsed from the Patient resource.
type Demographics struct {
	PatientID     string `json:"patient_id"`
	MRN           string `json:"mrn"`
	Name          string `json:"name"`
	Gender        string `json:"gender"`
	BirthDate     string `json:"birth_date"`
	DeceasedDate  string `json:"deceased_date,omitempty"`
	MaritalStatus string `json:"marital_status"`
	Race          string `json:"race"`
	Ethnicity     string `json:"ethnicity"`
	BirthSex      string `json:"birth_sex"`
	IsDeceased    bool   `json:"is_deceased"`
}

// Record is a parsed clinical entry. Entries keep a pointer to the raw
// resource under raw_resource.
type Record = map[string]interface{}

// ClinicalData holds the categorized record slices. Slices are append-only;
// re-parsing the same resource appends again.
type ClinicalData struct {
	Observations              []Record `json:"observations"`
	Conditions                []Record `json:"conditions"`
	Medications               []Record `json:"medications"`
	MedicationRequests        []Record `json:"medication_requests"`
	MedicationAdministrations []Record `json:"medication_administrations"`
	Encounters                []Record `json:"encounters"`
	Procedures                []Record `json:"procedures"`
	Locations                 []Record `json:"locations"`
	Specimens                 []Record `json:"specimens"`
	VitalSigns                []Record `json:"vital_signs"`
	LabResults                []Record `json:"lab_results"`
	Microbiology              []Record `json:"microbiology"`
	Timeline                  []Record `json:"timeline"`
}

// State is the aggregated clinical state for one patient.
type State struct {
	Demographics Demographics
	Clinical     ClinicalData
	FollowUps    []Record

	rawResources map[string]Record
	logger       *logger.Logger
	now          func() time.Time
}

// New creates an empty patient state. patientID may be empty when the
// Patient resource has not been seen yet.
func New(patientID string, log *logger.Logger) *State {
	return &State{
		Demographics: Demographics{PatientID: patientID},
		FollowUps:    make([]Record, 0),
		rawResources: make(map[string]Record),
		logger:       log,
		now:          time.Now,
	}
}

// ParseResourceList feeds each resource through ParseResource.
func (s *State) ParseResourceList(resources []Record) {
	for _, resource := range resources {
		s.ParseResource(resource)
	}
}

// ParseBundle walks a FHIR Bundle's entries.
func (s *State) ParseBundle(bundle Record) {
	if getString(bundle, "resourceType") != "Bundle" {
		return
	}
	for _, e := range getSlice(bundle, "entry") {
		entry := asMap(e)
		if resource := getMap(entry, "resource"); resource != nil {
			s.ParseResource(resource)
		}
	}
}

// ParseResource routes a resource to its type-specific parser. Unknown
// types are logged and ignored.
func (s *State) ParseResource(resource Record) {
	switch getString(resource, "resourceType") {
	case "Patient":
		s.parsePatient(resource)
	case "Observation":
		s.parseObservation(resource)
	case "Condition":
		s.parseCondition(resource)
	case "MedicationRequest":
		s.parseMedicationRequest(resource)
	case "MedicationAdministration":
		s.parseMedicationAdministration(resource)
	case "MedicationDispense":
		s.parseMedicationDispense(resource)
	case "Medication":
		s.parseMedicationDefinition(resource)
	case "Encounter":
		s.parseEncounter(resource)
	case "Procedure":
		s.parseProcedure(resource)
	case "Location":
		s.parseLocation(resource)
	case "Specimen":
		s.parseSpecimen(resource)
	case "Bundle":
		s.ParseBundle(resource)
	default:
		s.logger.WithField("resource_type", getString(resource, "resourceType")).
			Debug("No parser for resource type")
	}
}

func (s *State) parsePatient(resource Record) {
	s.rawResources["patient"] = resource

	s.Demographics.PatientID = getString(resource, "id")
	s.Demographics.Gender = getString(resource, "gender")
	s.Demographics.BirthDate = getString(resource, "birthDate")
	s.Demographics.DeceasedDate = getString(resource, "deceasedDateTime")
	s.Demographics.IsDeceased = s.Demographics.DeceasedDate != ""

	for _, i := range getSlice(resource, "identifier") {
		identifier := asMap(i)
		if strings.Contains(strings.ToLower(getString(identifier, "system")), "mimic") {
			s.Demographics.MRN = getString(identifier, "value")
		}
	}

	if names := getSlice(resource, "name"); len(names) > 0 {
		s.Demographics.Name = getString(asMap(names[0]), "family")
	}

	if marital := getMap(resource, "maritalStatus"); marital != nil {
		if codings := getSlice(marital, "coding"); len(codings) > 0 {
			s.Demographics.MaritalStatus = getString(asMap(codings[0]), "code")
		}
	}

	for _, e := range getSlice(resource, "extension") {
		ext := asMap(e)
		url := getString(ext, "url")
		switch {
		case strings.Contains(url, "us-core-race"):
			s.Demographics.Race = extensionText(ext)
		case strings.Contains(url, "us-core-ethnicity"):
			s.Demographics.Ethnicity = extensionText(ext)
		case strings.Contains(url, "us-core-birthsex"):
			s.Demographics.BirthSex = getString(ext, "valueCode")
		}
	}

	s.logger.WithPatient(s.Demographics.PatientID).
		WithField("name", s.Demographics.Name).Info("Parsed patient demographics")
}

// extensionText pulls the valueString of the nested text sub-extension used
// by the us-core race and ethnicity extensions.
func extensionText(ext Record) string {
	for _, sub := range getSlice(ext, "extension") {
		subExt := asMap(sub)
		if getString(subExt, "url") == "text" {
			return getString(subExt, "valueString")
		}
	}
	return ""
}

func (s *State) parseObservation(resource Record) {
	observation := s.extractObservation(resource)
	s.Clinical.Observations = append(s.Clinical.Observations, observation)

	switch observationCategory(resource) {
	case "vital-signs":
		s.Clinical.VitalSigns = append(s.Clinical.VitalSigns, observation)
	case "laboratory":
		s.Clinical.LabResults = append(s.Clinical.LabResults, observation)
	default:
		if profiles := getSlice(getMap(resource, "meta"), "profile"); len(profiles) > 0 {
			if p, _ := profiles[0].(string); strings.Contains(p, "micro") {
				s.Clinical.Microbiology = append(s.Clinical.Microbiology, observation)
			}
		}
	}

	s.addToTimeline("observation", observation)
}

func (s *State) extractObservation(resource Record) Record {
	observation := Record{
		"id":              getString(resource, "id"),
		"status":          getString(resource, "status"),
		"category":        displayList(getSlice(resource, "category")),
		"code":            getMap(resource, "code"),
		"code_display":    codeableConceptDisplay(getMap(resource, "code")),
		"effective_date":  getString(resource, "effectiveDateTime"),
		"issued_date":     getString(resource, "issued"),
		"value_quantity":  resource["valueQuantity"],
		"value_string":    resource["valueString"],
		"components":      s.extractComponents(getSlice(resource, "component")),
		"reference_range": getSlice(resource, "referenceRange"),
		"raw_resource":    resource,
	}

	if quantity := getMap(resource, "valueQuantity"); quantity != nil {
		if v, ok := numericValue(quantity); ok {
			observation["value_numeric"] = v
			observation["unit"] = getString(quantity, "unit")
		}
	} else if components, ok := observation["components"].([]Record); ok {
		// Multi-component observations fall back to the first numeric
		// component for the headline value.
		for _, comp := range components {
			if v, ok := comp["value_numeric"]; ok {
				observation["value_numeric"] = v
				observation["unit"] = comp["unit"]
				break
			}
		}
	}

	return observation
}

func (s *State) extractComponents(components []interface{}) []Record {
	out := make([]Record, 0, len(components))
	for _, c := range components {
		comp := asMap(c)
		data := Record{
			"code":           codeableConceptDisplay(getMap(comp, "code")),
			"value_quantity": comp["valueQuantity"],
			"value_string":   comp["valueString"],
		}
		if quantity := getMap(comp, "valueQuantity"); quantity != nil {
			if v, ok := numericValue(quantity); ok {
				data["value_numeric"] = v
				data["unit"] = getString(quantity, "unit")
			}
		}
		out = append(out, data)
	}
	return out
}

// observationCategory classifies an Observation by its category codings.
func observationCategory(resource Record) string {
	for _, c := range getSlice(resource, "category") {
		for _, coding := range getSlice(asMap(c), "coding") {
			code := strings.ToLower(getString(asMap(coding), "code"))
			switch {
			case strings.Contains(code, "vital"):
				return "vital-signs"
			case strings.Contains(code, "laboratory"):
				return "laboratory"
			case strings.Contains(code, "survey"):
				return "survey"
			}
		}
	}
	return "other"
}

func (s *State) parseCondition(resource Record) {
	condition := Record{
		"id":                  getString(resource, "id"),
		"code":                codeableConceptDisplay(getMap(resource, "code")),
		"clinical_status":     codingDisplay(getMap(resource, "clinicalStatus")),
		"verification_status": codingDisplay(getMap(resource, "verificationStatus")),
		"category":            displayList(getSlice(resource, "category")),
		"onset_date":          getString(resource, "onsetDateTime"),
		"recorded_date":       getString(resource, "recordedDate"),
		"severity":            codingDisplay(getMap(resource, "severity")),
		"raw_resource":        resource,
	}
	s.Clinical.Conditions = append(s.Clinical.Conditions, condition)
	s.addToTimeline("condition", condition)
}

func (s *State) parseMedicationRequest(resource Record) {
	request := Record{
		"id":                  getString(resource, "id"),
		"status":              getString(resource, "status"),
		"intent":              getString(resource, "intent"),
		"medication":          s.extractMedicationInfo(resource),
		"authored_on":         getString(resource, "authoredOn"),
		"dosage_instructions": s.extractDosageInstructions(getSlice(resource, "dosageInstruction")),
		"dispense_request":    getMap(resource, "dispenseRequest"),
		"type":                "request",
		"raw_resource":        resource,
	}
	s.Clinical.MedicationRequests = append(s.Clinical.MedicationRequests, request)
	s.Clinical.Medications = append(s.Clinical.Medications, request)
	s.addToTimeline("medication_request", request)
}

func (s *State) parseMedicationAdministration(resource Record) {
	administration := Record{
		"id":             getString(resource, "id"),
		"status":         getString(resource, "status"),
		"medication":     s.extractMedicationInfo(resource),
		"effective_date": getString(resource, "effectiveDateTime"),
		"dosage":         s.extractAdministrationDosage(getMap(resource, "dosage")),
		"type":           "administration",
		"raw_resource":   resource,
	}
	s.Clinical.MedicationAdministrations = append(s.Clinical.MedicationAdministrations, administration)
	s.Clinical.Medications = append(s.Clinical.Medications, administration)
	s.addToTimeline("medication_administration", administration)
}

func (s *State) parseMedicationDispense(resource Record) {
	dispense := Record{
		"id":                  getString(resource, "id"),
		"status":              getString(resource, "status"),
		"medication":          s.extractMedicationInfo(resource),
		"when_dispensed":      getString(resource, "whenHandedOver"),
		"quantity":            getMap(resource, "quantity"),
		"dosage_instructions": s.extractDosageInstructions(getSlice(resource, "dosageInstruction")),
		"type":                "dispense",
		"raw_resource":        resource,
	}
	s.Clinical.Medications = append(s.Clinical.Medications, dispense)
	s.addToTimeline("medication_dispense", dispense)
}

// Medication definition resources are kept for reference resolution only.
func (s *State) parseMedicationDefinition(resource Record) {
	if id := getString(resource, "id"); id != "" {
		s.rawResources["medication_"+id] = resource
	}
}

// extractMedicationInfo resolves the medication display either from an
// inline CodeableConcept or through a stored Medication definition.
func (s *State) extractMedicationInfo(resource Record) Record {
	medication := Record{}
	if concept := getMap(resource, "medicationCodeableConcept"); concept != nil {
		medication["display"] = codeableConceptDisplay(concept)
		medication["coding"] = concept
	} else if ref := getMap(resource, "medicationReference"); ref != nil {
		reference := getString(ref, "reference")
		medication["reference"] = reference
		medID := strings.TrimPrefix(reference, "Medication/")
		if stored, ok := s.rawResources["medication_"+medID]; ok {
			medication["display"] = codeableConceptDisplay(getMap(stored, "code"))
		}
	}
	return medication
}

func (s *State) extractDosageInstructions(dosages []interface{}) []Record {
	instructions := make([]Record, 0, len(dosages))
	for _, d := range dosages {
		dosage := asMap(d)
		instruction := Record{
			"text":   getString(dosage, "text"),
			"route":  codingDisplay(getMap(dosage, "route")),
			"timing": extractTiming(getMap(dosage, "timing")),
		}

		doseAndRate := make([]Record, 0)
		for _, dr := range getSlice(dosage, "doseAndRate") {
			doseRate := asMap(dr)
			info := Record{}
			if q := getMap(doseRate, "doseQuantity"); q != nil {
				info["dose"] = q
			}
			if q := getMap(doseRate, "rateQuantity"); q != nil {
				info["rate"] = q
			}
			doseAndRate = append(doseAndRate, info)
		}
		instruction["dose_and_rate"] = doseAndRate

		instructions = append(instructions, instruction)
	}
	return instructions
}

func (s *State) extractAdministrationDosage(dosage Record) Record {
	return Record{
		"text":   getString(dosage, "text"),
		"route":  codingDisplay(getMap(dosage, "route")),
		"method": codingDisplay(getMap(dosage, "method")),
		"dose":   getMap(dosage, "dose"),
	}
}

func extractTiming(timing Record) Record {
	info := Record{}
	if code := getMap(timing, "code"); code != nil {
		info["code"] = codeableConceptDisplay(code)
	}
	if repeat := getMap(timing, "repeat"); repeat != nil {
		frequency := repeat["frequency"]
		period := repeat["period"]
		periodUnit := getString(repeat, "periodUnit")
		info["frequency"] = frequency
		info["period"] = period
		info["period_unit"] = periodUnit
		if frequency != nil && period != nil && periodUnit != "" {
			info["description"] = fmt.Sprintf("%v time(s) per %v %s", frequency, period, periodUnit)
		}
	}
	return info
}

func (s *State) parseEncounter(resource Record) {
	period := getMap(resource, "period")
	encounter := Record{
		"id":              getString(resource, "id"),
		"status":          getString(resource, "status"),
		"class":           codingDisplay(getMap(resource, "class")),
		"type":            displayList(getSlice(resource, "type")),
		"service_type":    codingDisplay(getMap(resource, "serviceType")),
		"priority":        codingDisplay(getMap(resource, "priority")),
		"period":          period,
		"length_of_stay":  s.lengthOfStay(period),
		"reason_codes":    conceptDisplayList(getSlice(resource, "reasonCode")),
		"hospitalization": getMap(resource, "hospitalization"),
		"locations":       extractEncounterLocations(getSlice(resource, "location")),
		"raw_resource":    resource,
	}
	s.Clinical.Encounters = append(s.Clinical.Encounters, encounter)
	s.addToTimeline("encounter", encounter)
}

func extractEncounterLocations(locations []interface{}) []Record {
	out := make([]Record, 0, len(locations))
	for _, l := range locations {
		loc := asMap(l)
		out = append(out, Record{
			"location_reference": getString(getMap(loc, "location"), "reference"),
			"period":             getMap(loc, "period"),
			"status":             getString(loc, "status"),
		})
	}
	return out
}

func (s *State) lengthOfStay(period Record) interface{} {
	start, ok := parseFHIRTime(getString(period, "start"))
	if !ok {
		return nil
	}
	end, ok := parseFHIRTime(getString(period, "end"))
	if !ok {
		end = s.now()
	}
	return int(end.Sub(start).Hours() / 24)
}

func (s *State) parseProcedure(resource Record) {
	procedure := Record{
		"id":               getString(resource, "id"),
		"status":           getString(resource, "status"),
		"category":         codingDisplay(getMap(resource, "category")),
		"code":             codeableConceptDisplay(getMap(resource, "code")),
		"performed_date":   getString(resource, "performedDateTime"),
		"performed_period": getMap(resource, "performedPeriod"),
		"raw_resource":     resource,
	}
	s.Clinical.Procedures = append(s.Clinical.Procedures, procedure)
	s.addToTimeline("procedure", procedure)
}

func (s *State) parseLocation(resource Record) {
	s.Clinical.Locations = append(s.Clinical.Locations, Record{
		"id":            getString(resource, "id"),
		"status":        getString(resource, "status"),
		"name":          getString(resource, "name"),
		"physical_type": codingDisplay(getMap(resource, "physicalType")),
		"raw_resource":  resource,
	})
}

func (s *State) parseSpecimen(resource Record) {
	s.Clinical.Specimens = append(s.Clinical.Specimens, Record{
		"id":              getString(resource, "id"),
		"type":            codingDisplay(getMap(resource, "type")),
		"collection_date": getString(getMap(resource, "collection"), "collectedDateTime"),
		"raw_resource":    resource,
	})
}

func displayList(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, codingDisplay(asMap(item)))
	}
	return out
}

func conceptDisplayList(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, codeableConceptDisplay(asMap(item)))
	}
	return out
}

// timelineDateFields is checked in order when placing a record on the
// timeline; period.start is the final fallback.
var timelineDateFields = []string{
	"effective_date", "effectiveDateTime", "authored_on", "recorded_date",
	"onset_date", "performed_date", "start", "collection_date",
}

func (s *State) addToTimeline(eventType string, data Record) {
	var date string
	for _, field := range timelineDateFields {
		if v, _ := data[field].(string); v != "" {
			date = v
			break
		}
	}
	if date == "" {
		if period, ok := data["period"].(map[string]interface{}); ok {
			date = getString(period, "start")
		}
	}
	if date == "" {
		return
	}

	s.Clinical.Timeline = append(s.Clinical.Timeline, Record{
		"date":        date,
		"event_type":  eventType,
		"id":          data["id"],
		"description": eventDescription(eventType, data),
		"raw_data":    data,
	})
}

func eventDescription(eventType string, data Record) string {
	switch eventType {
	case "observation":
		if d := getString(data, "code_display"); d != "" {
			return d
		}
		return "Observation"
	case "condition":
		if d := getString(data, "code"); d != "" {
			return d
		}
		return "Condition"
	case "medication_request", "medication_administration", "medication_dispense":
		if d := getString(getMap(data, "medication"), "display"); d != "" {
			return d
		}
		return "Medication"
	case "encounter":
		if d := getString(data, "class"); d != "" {
			return d
		}
		return "Encounter"
	case "procedure":
		if d := getString(data, "code"); d != "" {
			return d
		}
		return "Procedure"
	default:
		words := strings.Fields(strings.ReplaceAll(eventType, "_", " "))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	}
}

// ScheduleFollowUp records a follow-up appointment for the patient.
func (s *State) ScheduleFollowUp(scheduledTime, reason string) {
	s.FollowUps = append(s.FollowUps, Record{
		"scheduled_time": scheduledTime,
		"reason":         reason,
	})
	s.logger.WithPatient(s.Demographics.PatientID).
		WithField("scheduled_time", scheduledTime).Info("Scheduled follow-up")
}

// Age returns the patient age in whole years, computed against the deceased
// date when present. Negative values clamp to zero; nil when the birth date
// is missing or unparsable.
func (s *State) Age() interface{} {
	birth, ok := parseFHIRTime(s.Demographics.BirthDate)
	if !ok {
		return nil
	}
	end := s.now()
	if deceased, ok := parseFHIRTime(s.Demographics.DeceasedDate); ok {
		end = deceased
	}
	age := int(end.Sub(birth).Hours() / 24 / 365)
	if age < 0 {
		age = 0
	}
	return age
}

// DataCounts reports how many records were ingested per category.
func (s *State) DataCounts() map[string]int {
	return map[string]int{
		"observations": len(s.Clinical.Observations),
		"vital_signs":  len(s.Clinical.VitalSigns),
		"lab_results":  len(s.Clinical.LabResults),
		"conditions":   len(s.Clinical.Conditions),
		"medications":  len(s.Clinical.Medications),
		"encounters":   len(s.Clinical.Encounters),
		"procedures":   len(s.Clinical.Procedures),
	}
}

// Summary builds summary statistics: identity, counts, covered date range,
// key conditions, recent vitals, and medication totals.
func (s *State) Summary() Record {
	return Record{
		"patient_info": Record{
			"id":          s.Demographics.PatientID,
			"mrn":         s.Demographics.MRN,
			"name":        s.Demographics.Name,
			"age":         s.Age(),
			"gender":      s.Demographics.Gender,
			"is_deceased": s.Demographics.IsDeceased,
		},
		"data_counts":        s.DataCounts(),
		"date_range":         s.dateRange(),
		"key_conditions":     s.keyConditions(),
		"recent_vitals":      s.recentVitals(),
		"medication_summary": s.medicationSummary(),
	}
}

func (s *State) dateRange() Record {
	var min, max time.Time
	for _, entry := range s.Clinical.Timeline {
		t, ok := parseFHIRTime(getString(entry, "date"))
		if !ok {
			continue
		}
		if min.IsZero() || t.Before(min) {
			min = t
		}
		if max.IsZero() || t.After(max) {
			max = t
		}
	}
	if min.IsZero() {
		return Record{"start": nil, "end": nil}
	}
	return Record{
		"start": min.Format("2006-01-02"),
		"end":   max.Format("2006-01-02"),
	}
}

// keyConditions returns up to five unique condition displays in first-seen
// order.
func (s *State) keyConditions() []string {
	seen := make(map[string]bool)
	conditions := make([]string, 0, 5)
	for _, c := range s.Clinical.Conditions {
		code := getString(c, "code")
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		conditions = append(conditions, code)
		if len(conditions) == 5 {
			break
		}
	}
	return conditions
}

// recentVitals returns the five most recent dated vital signs keyed by
// code display.
func (s *State) recentVitals() Record {
	type dated struct {
		record Record
		t      time.Time
	}
	vitals := make([]dated, 0, len(s.Clinical.VitalSigns))
	for _, v := range s.Clinical.VitalSigns {
		if t, ok := parseFHIRTime(getString(v, "effective_date")); ok {
			vitals = append(vitals, dated{record: v, t: t})
		}
	}
	// Most recent first.
	for i := 0; i < len(vitals); i++ {
		for j := i + 1; j < len(vitals); j++ {
			if vitals[j].t.After(vitals[i].t) {
				vitals[i], vitals[j] = vitals[j], vitals[i]
			}
		}
	}
	if len(vitals) > 5 {
		vitals = vitals[:5]
	}

	result := Record{}
	for _, v := range vitals {
		code := getString(v.record, "code_display")
		if code == "" {
			code = "Unknown"
		}
		if value, ok := v.record["value_numeric"]; ok {
			result[code] = Record{
				"value": value,
				"unit":  v.record["unit"],
				"date":  v.record["effective_date"],
			}
		}
	}
	return result
}

func (s *State) medicationSummary() Record {
	if len(s.Clinical.Medications) == 0 {
		return Record{}
	}
	unique := make(map[string]bool)
	for _, m := range s.Clinical.Medications {
		if display := getString(getMap(m, "medication"), "display"); display != "" {
			unique[display] = true
		}
	}
	return Record{
		"total_medications":  len(s.Clinical.Medications),
		"requests":           len(s.Clinical.MedicationRequests),
		"administrations":    len(s.Clinical.MedicationAdministrations),
		"unique_medications": len(unique),
	}
}

// ToMap flattens the full state for JSON serialization toward the model.
func (s *State) ToMap() Record {
	return Record{
		"demographics": Record{
			"patient_id":     s.Demographics.PatientID,
			"mrn":            s.Demographics.MRN,
			"name":           s.Demographics.Name,
			"gender":         s.Demographics.Gender,
			"birth_date":     s.Demographics.BirthDate,
			"deceased_date":  s.Demographics.DeceasedDate,
			"race":           s.Demographics.Race,
			"ethnicity":      s.Demographics.Ethnicity,
			"marital_status": s.Demographics.MaritalStatus,
			"is_deceased":    s.Demographics.IsDeceased,
			"age":            s.Age(),
		},
		"encounters":             s.Clinical.Encounters,
		"medications":            s.Clinical.Medications,
		"lab_results":            s.Clinical.LabResults,
		"observations":           s.Clinical.Observations,
		"conditions":             s.Clinical.Conditions,
		"clinical_summary":       s.Summary(),
		"data_counts":            s.DataCounts(),
		"follow_up_appointments": s.FollowUps,
	}
}

// VoiceSummary renders a short spoken-friendly description of the loaded
// record.
func (s *State) VoiceSummary() string {
	ageStr := ""
	if age := s.Age(); age != nil {
		ageStr = fmt.Sprintf("%d year old ", age)
	}
	return fmt.Sprintf(
		"Patient %s, MRN %s, is a %s%s patient. We have %d vital sign measurements, %d lab results, %d medical conditions, and %d medication records.",
		s.Demographics.Name, s.Demographics.MRN, ageStr, s.Demographics.Gender,
		len(s.Clinical.VitalSigns), len(s.Clinical.LabResults),
		len(s.Clinical.Conditions), len(s.Clinical.Medications),
	)
}

// Search scans conditions, medications, and observations for a substring
// match.
func (s *State) Search(query string) []Record {
	q := strings.ToLower(query)
	results := make([]Record, 0)

	for _, condition := range s.Clinical.Conditions {
		if strings.Contains(strings.ToLower(getString(condition, "code")), q) {
			results = append(results, Record{"type": "condition", "data": condition})
		}
	}
	for _, medication := range s.Clinical.Medications {
		name := getString(getMap(medication, "medication"), "display")
		if strings.Contains(strings.ToLower(name), q) {
			results = append(results, Record{"type": "medication", "data": medication})
		}
	}
	for _, observation := range s.Clinical.Observations {
		if strings.Contains(strings.ToLower(getString(observation, "code_display")), q) {
			results = append(results, Record{"type": "observation", "data": observation})
		}
	}
	return results
}
