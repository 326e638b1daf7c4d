// Package session manages bidirectional speech-to-speech sessions: the
// event vocabulary spoken over the model stream, the orchestrator that
// pumps audio in and events out, and the clinical tool dispatch loop.
package session

import "time"

// Event is a decoded protocol event. Every event on the wire is a JSON
// object with a single-key "event" envelope.
type Event = map[string]interface{}

// DefaultSystemPrompt seeds the conversation when the client does not
// provide its own.
const DefaultSystemPrompt = "You are a friendly assistant. The user and you will engage in a spoken dialog " +
	"exchanging the transcripts of a natural real-time conversation. Keep your responses short, " +
	"generally two or three sentences for chatty scenarios."

// DefaultInferenceConfig returns the model sampling configuration.
func DefaultInferenceConfig() Event {
	return Event{
		"maxTokens":   1024,
		"topP":        0.95,
		"temperature": 0.7,
	}
}

// DefaultAudioInputConfig returns the microphone stream format.
func DefaultAudioInputConfig() Event {
	return Event{
		"mediaType":       "audio/lpcm",
		"sampleRateHertz": 16000,
		"sampleSizeBits":  16,
		"channelCount":    1,
		"audioType":       "SPEECH",
		"encoding":        "base64",
	}
}

// DefaultAudioOutputConfig returns the synthesized voice format.
func DefaultAudioOutputConfig() Event {
	return Event{
		"mediaType":       "audio/lpcm",
		"sampleRateHertz": 24000,
		"sampleSizeBits":  16,
		"channelCount":    1,
		"voiceId":         "matthew",
		"encoding":        "base64",
		"audioType":       "SPEECH",
	}
}

func SessionStart() Event {
	return Event{"event": Event{"sessionStart": Event{
		"inferenceConfiguration": DefaultInferenceConfig(),
	}}}
}

func PromptStart(promptName string, toolConfig Event) Event {
	return Event{"event": Event{"promptStart": Event{
		"promptName": promptName,
		"textOutputConfiguration": Event{
			"mediaType": "text/plain",
		},
		"audioOutputConfiguration": DefaultAudioOutputConfig(),
		"toolUseOutputConfiguration": Event{
			"mediaType": "application/json",
		},
		"toolConfiguration": toolConfig,
	}}}
}

func ContentStartText(promptName, contentName string) Event {
	return Event{"event": Event{"contentStart": Event{
		"promptName":  promptName,
		"contentName": contentName,
		"type":        "TEXT",
		"interactive": true,
		"role":        "SYSTEM",
		"textInputConfiguration": Event{
			"mediaType": "text/plain",
		},
	}}}
}

func TextInput(promptName, contentName, content string) Event {
	return Event{"event": Event{"textInput": Event{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	}}}
}

func ContentStartAudio(promptName, contentName string) Event {
	return Event{"event": Event{"contentStart": Event{
		"promptName":              promptName,
		"contentName":             contentName,
		"type":                    "AUDIO",
		"interactive":             true,
		"audioInputConfiguration": DefaultAudioInputConfig(),
	}}}
}

func AudioInput(promptName, contentName, content string) Event {
	return Event{"event": Event{"audioInput": Event{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	}}}
}

// ContentStartTool opens the non-interactive TOOL content block that
// carries a tool result back to the model.
func ContentStartTool(promptName, contentName, toolUseID string) Event {
	return Event{"event": Event{"contentStart": Event{
		"promptName":  promptName,
		"contentName": contentName,
		"interactive": false,
		"type":        "TOOL",
		"role":        "TOOL",
		"toolResultInputConfiguration": Event{
			"toolUseId": toolUseID,
			"type":      "TEXT",
			"textInputConfiguration": Event{
				"mediaType": "text/plain",
			},
		},
	}}}
}

func ToolResult(promptName, contentName, content string) Event {
	return Event{"event": Event{"toolResult": Event{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	}}}
}

func ContentEnd(promptName, contentName string) Event {
	return Event{"event": Event{"contentEnd": Event{
		"promptName":  promptName,
		"contentName": contentName,
	}}}
}

func PromptEnd(promptName string) Event {
	return Event{"event": Event{"promptEnd": Event{
		"promptName": promptName,
	}}}
}

func SessionEnd() Event {
	return Event{"event": Event{"sessionEnd": Event{}}}
}

// Heartbeat keeps the connection alive across stream read timeouts.
func Heartbeat(id string, at time.Time) Event {
	return Event{"event": Event{"heartbeat": Event{
		"id":        id,
		"timestamp": at.UnixMilli(),
	}}}
}

// EventName returns the single top-level key inside the "event" envelope,
// or empty when the payload is not an event.
func EventName(e Event) string {
	inner, ok := e["event"].(map[string]interface{})
	if !ok {
		return ""
	}
	for name := range inner {
		return name
	}
	return ""
}

// EventBody returns the payload of the named event.
func EventBody(e Event, name string) map[string]interface{} {
	inner, ok := e["event"].(map[string]interface{})
	if !ok {
		return nil
	}
	body, _ := inner[name].(map[string]interface{})
	return body
}
