package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip re-decodes an event so assertions see the exact wire shape.
func roundTrip(t *testing.T, e Event) Event {
	t.Helper()
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	var decoded Event
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return decoded
}

func TestSessionStartWireShape(t *testing.T) {
	e := roundTrip(t, SessionStart())

	assert.Equal(t, "sessionStart", EventName(e))
	body := EventBody(e, "sessionStart")
	inference, ok := body["inferenceConfiguration"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1024), inference["maxTokens"])
	assert.Equal(t, 0.95, inference["topP"])
	assert.Equal(t, 0.7, inference["temperature"])
}

func TestPromptStartWireShape(t *testing.T) {
	e := roundTrip(t, PromptStart("prompt-1", ToolConfig()))

	body := EventBody(e, "promptStart")
	assert.Equal(t, "prompt-1", body["promptName"])

	textOut, ok := body["textOutputConfiguration"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "text/plain", textOut["mediaType"])

	audioOut, ok := body["audioOutputConfiguration"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(24000), audioOut["sampleRateHertz"])
	assert.Equal(t, "matthew", audioOut["voiceId"])
	assert.Equal(t, "audio/lpcm", audioOut["mediaType"])

	toolOut, ok := body["toolUseOutputConfiguration"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "application/json", toolOut["mediaType"])

	toolCfg, ok := body["toolConfiguration"].(map[string]interface{})
	require.True(t, ok)
	tools, ok := toolCfg["tools"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, tools)
}

func TestToolConfigCatalogue(t *testing.T) {
	cfg := roundTrip(t, ToolConfig())
	tools, ok := cfg["tools"].([]interface{})
	require.True(t, ok)

	names := make(map[string]bool)
	for _, tool := range tools {
		spec, ok := tool.(map[string]interface{})["toolSpec"].(map[string]interface{})
		require.True(t, ok)

		name, _ := spec["name"].(string)
		names[name] = true
		assert.NotEmpty(t, spec["description"], "tool %s needs a description", name)

		schema, ok := spec["inputSchema"].(map[string]interface{})
		require.True(t, ok, "tool %s needs an input schema", name)
		raw, ok := schema["json"].(string)
		require.True(t, ok, "tool %s schema must be a JSON string", name)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(raw), &decoded),
			"tool %s schema must decode", name)
		assert.Equal(t, "object", decoded["type"])
	}

	for _, expected := range []string{
		"searchByType", "searchById", "searchByText", "findPatient",
		"getPatientObservations", "getPatientConditions", "getPatientMedications",
		"getPatientEncounters", "getPatientAllergies", "getPatientProcedures",
		"getPatientCareTeam", "getPatientCarePlans", "getVitalSigns",
		"getLabResults", "getMedicationsHistory", "executeClinicalQuery",
		"listResourceTypes", "listAllResources", "getDateTool", "getPatientData",
		"scheduleFollowUp", "differentialDiagnosis",
	} {
		assert.True(t, names[expected], "missing tool %s", expected)
	}
}

func TestContentEventsWireShape(t *testing.T) {
	text := roundTrip(t, ContentStartText("p", "c"))
	body := EventBody(text, "contentStart")
	assert.Equal(t, "TEXT", body["type"])
	assert.Equal(t, true, body["interactive"])
	assert.Equal(t, "SYSTEM", body["role"])

	audio := roundTrip(t, ContentStartAudio("p", "c"))
	body = EventBody(audio, "contentStart")
	assert.Equal(t, "AUDIO", body["type"])
	audioCfg, ok := body["audioInputConfiguration"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(16000), audioCfg["sampleRateHertz"])
	assert.Equal(t, "audio/lpcm", audioCfg["mediaType"])
	assert.Equal(t, "SPEECH", audioCfg["audioType"])

	input := roundTrip(t, AudioInput("p", "c", "Zm9v"))
	body = EventBody(input, "audioInput")
	assert.Equal(t, "p", body["promptName"])
	assert.Equal(t, "c", body["contentName"])
	assert.Equal(t, "Zm9v", body["content"])
}

func TestHeartbeatWireShape(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := roundTrip(t, Heartbeat("hb-1", at))

	body := EventBody(e, "heartbeat")
	assert.Equal(t, "hb-1", body["id"])
	assert.Equal(t, float64(at.UnixMilli()), body["timestamp"])
}

func TestEventNameOnNonEvents(t *testing.T) {
	assert.Empty(t, EventName(Event{"raw_data": "junk"}))
	assert.Nil(t, EventBody(Event{}, "sessionStart"))
}
