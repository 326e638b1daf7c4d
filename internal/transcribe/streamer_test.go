package transcribe

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
)

// fakeSpeechStream records sent audio and lets tests feed results.
type fakeSpeechStream struct {
	mu         sync.Mutex
	chunks     [][]byte
	results    chan Result
	inputEnded int
}

func newFakeSpeechStream() *fakeSpeechStream {
	return &fakeSpeechStream{results: make(chan Result, 16)}
}

func (f *fakeSpeechStream) SendAudio(_ context.Context, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]byte, len(chunk))
	copy(copied, chunk)
	f.chunks = append(f.chunks, copied)
	return nil
}

func (f *fakeSpeechStream) Results() <-chan Result {
	return f.results
}

func (f *fakeSpeechStream) EndInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputEnded++
	if f.inputEnded == 1 {
		close(f.results)
	}
	return nil
}

func (f *fakeSpeechStream) sentChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunks := make([][]byte, len(f.chunks))
	copy(chunks, f.chunks)
	return chunks
}

type fakeBackend struct {
	stream  *fakeSpeechStream
	openErr error

	mu       sync.Mutex
	settings StreamSettings
}

func (f *fakeBackend) OpenStream(_ context.Context, settings StreamSettings) (SpeechStream, error) {
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func testTranscribeConfig() *config.TranscribeConfig {
	return &config.TranscribeConfig{
		LanguageCode:      "en-US",
		SampleRateHertz:   16000,
		EnableDiarization: true,
		MaxSpeakers:       2,
		ChunkSize:         8,
		FlushInterval:     20,
	}
}

func newTestStreamer(backend SpeechBackend) *Streamer {
	return NewStreamer(backend, testTranscribeConfig(), logger.New("transcribe-test", "error"))
}

func TestStreamerChunksAudio(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	s := newTestStreamer(backend)

	lines := s.Run(context.Background())
	s.AddAudio(base64.StdEncoding.EncodeToString([]byte("01234567890123456789")))

	require.Eventually(t, func() bool {
		return len(stream.sentChunks()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	chunks := stream.sentChunks()
	assert.Equal(t, []byte("01234567"), chunks[0])
	assert.Equal(t, []byte("89012345"), chunks[1])
	// partial tail flushed by the quiet-interval timer
	assert.Equal(t, []byte("6789"), chunks[2])

	s.Stop()
	for range lines {
	}
}

func TestStreamerDropsUndecodableAudio(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	s := newTestStreamer(backend)

	lines := s.Run(context.Background())
	s.AddAudio("not base64!!!")
	s.AddAudio(base64.StdEncoding.EncodeToString([]byte("abcdefgh")))

	require.Eventually(t, func() bool {
		return len(stream.sentChunks()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("abcdefgh"), stream.sentChunks()[0])

	s.Stop()
	for range lines {
	}
}

func TestStreamerSpeakerMapping(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	s := newTestStreamer(backend)

	lines := s.Run(context.Background())

	stream.results <- Result{SpeakerLabel: "spk_0", Text: "interim", Partial: true}
	stream.results <- Result{SpeakerLabel: "spk_0", Text: "hello doctor", Confidence: 0.9}
	stream.results <- Result{SpeakerLabel: "spk_1", Text: "hello there"}
	stream.results <- Result{SpeakerLabel: "spk_0", Text: "how are you"}
	stream.results <- Result{SpeakerLabel: "spk_2", Text: "interrupting"}
	stream.results <- Result{SpeakerLabel: "spk_1", Text: ""}
	s.Stop()

	var got []TranscriptLine
	for line := range lines {
		got = append(got, line)
	}

	require.Len(t, got, 4)
	assert.Equal(t, "primary", got[0].Speaker)
	assert.Equal(t, "hello doctor", got[0].Text)
	assert.Equal(t, "secondary", got[1].Speaker)
	assert.Equal(t, "primary", got[2].Speaker)
	assert.Equal(t, "speaker_3", got[3].Speaker)
	assert.NotEmpty(t, got[0].LineID)

	mapping := s.SpeakerMapping()
	assert.Equal(t, "primary", mapping["spk_0"])
	assert.Equal(t, "secondary", mapping["spk_1"])
}

func TestStreamerBackendUnavailable(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("no credentials")}
	s := newTestStreamer(backend)

	lines := s.Run(context.Background())

	select {
	case _, open := <-lines:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("transcript channel should close immediately")
	}
}

func TestStreamerStopIdempotent(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	s := newTestStreamer(backend)

	lines := s.Run(context.Background())
	s.Stop()
	s.Stop()
	for range lines {
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Equal(t, 1, stream.inputEnded)
}

func TestStreamerPassesSettings(t *testing.T) {
	stream := newFakeSpeechStream()
	backend := &fakeBackend{stream: stream}
	s := newTestStreamer(backend)

	lines := s.Run(context.Background())
	backend.mu.Lock()
	settings := backend.settings
	backend.mu.Unlock()

	assert.Equal(t, "en-US", settings.LanguageCode)
	assert.Equal(t, 16000, settings.SampleRateHertz)
	assert.True(t, settings.EnableDiarization)

	s.Stop()
	for range lines {
	}
}
