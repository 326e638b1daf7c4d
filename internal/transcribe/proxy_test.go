package transcribe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

func dialProxy(t *testing.T, backend SpeechBackend) (*websocket.Conn, func()) {
	t.Helper()
	proxy := NewProxy(backend, testTranscribeConfig(),
		logger.New("transcribe-test", "error"),
		monitoring.NewMetricsCollector("transcribe-test"))
	server := httptest.NewServer(http.HandlerFunc(proxy.HandleConnection))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestProxySessionRoundTrip(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "start_transcription",
		"config": map[string]interface{}{"session_id": "sess-7", "language": "en-GB"},
	}))

	started := readFrame(t, conn)
	assert.Equal(t, "transcription_started", started["type"])
	assert.Equal(t, "sess-7", started["session_id"])
	assert.Equal(t, "success", started["status"])

	backend.mu.Lock()
	language := backend.settings.LanguageCode
	backend.mu.Unlock()
	assert.Equal(t, "en-GB", language)

	stream.results <- Result{SpeakerLabel: "spk_0", Text: "patient reports chest pain", Confidence: 0.92}

	result := readFrame(t, conn)
	assert.Equal(t, "transcription_result", result["type"])
	assert.Equal(t, "sess-7", result["session_id"])
	assert.Equal(t, "patient reports chest pain", result["transcript"])
	assert.Equal(t, "primary", result["speaker"])
	assert.Equal(t, false, result["is_partial"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "stop_transcription",
		"session_id": "sess-7",
	}))
	stopped := readFrame(t, conn)
	assert.Equal(t, "transcription_stopped", stopped["type"])
	assert.Equal(t, "sess-7", stopped["session_id"])
}

func TestProxyAudioForUnknownSessionDropped(t *testing.T) {
	backend := &fakeBackend{stream: newFakeSpeechStream()}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "audio_chunk",
		"session_id": "never-started",
		"audio_data": "Zm9v",
	}))

	// the connection stays usable, no error frame is sent
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "start_transcription",
	}))
	started := readFrame(t, conn)
	assert.Equal(t, "transcription_started", started["type"])
	assert.NotEmpty(t, started["session_id"])
}

func TestProxyUnknownMessageType(t *testing.T) {
	backend := &fakeBackend{stream: newFakeSpeechStream()}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "reboot"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "unknown message type")
}

func TestProxyInvalidJSON(t *testing.T) {
	backend := &fakeBackend{stream: newFakeSpeechStream()}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
}

func TestProxyDuplicateSessionRejected(t *testing.T) {
	backend := &fakeBackend{stream: newFakeSpeechStream()}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	start := map[string]interface{}{"type": "start_transcription", "session_id": "dup"}
	require.NoError(t, conn.WriteJSON(start))
	started := readFrame(t, conn)
	assert.Equal(t, "transcription_started", started["type"])

	require.NoError(t, conn.WriteJSON(start))
	rejected := readFrame(t, conn)
	assert.Equal(t, "error", rejected["type"])
	assert.Contains(t, rejected["message"], "already active")
}

func TestProxyAudioReachesBackend(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "start_transcription",
		"session_id": "sess-audio",
	}))
	readFrame(t, conn)

	// "audio-data" base64-encoded
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "audio_chunk",
		"session_id": "sess-audio",
		"audio_data": "YXVkaW8tZGF0YQ==",
	}))

	// 10 bytes arrive as one full 8-byte chunk plus a timer-flushed tail
	require.Eventually(t, func() bool {
		return len(stream.sentChunks()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	chunks := stream.sentChunks()
	assert.Equal(t, []byte("audio-da"), chunks[0])
	assert.Equal(t, []byte("ta"), chunks[1])
}

func TestProxyStopUnknownSessionIgnored(t *testing.T) {
	backend := &fakeBackend{stream: newFakeSpeechStream()}
	conn, teardown := dialProxy(t, backend)
	defer teardown()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "stop_transcription",
		"session_id": "ghost",
	}))

	// still responsive afterwards
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "bogus"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
}
