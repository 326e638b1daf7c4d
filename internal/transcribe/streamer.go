// Package transcribe streams conversation audio to a speech-to-text backend
// and relays diarized transcript lines, either in-process or through the
// websocket proxy surface.
package transcribe

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
)

// Result is one recognition result from the backend. Partial results are
// interim hypotheses that later results replace.
type Result struct {
	SpeakerLabel string
	Text         string
	Confidence   float64
	StartTime    float64
	EndTime      float64
	Partial      bool
}

// TranscriptLine is a finalized, speaker-attributed line of speech.
type TranscriptLine struct {
	LineID     string    `json:"line_id"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	Timestamp  time.Time `json:"timestamp"`
}

// StreamSettings is passed to the backend when opening a stream.
type StreamSettings struct {
	LanguageCode      string
	SampleRateHertz   int
	EnableDiarization bool
	MaxSpeakers       int
	Vocabulary        string
}

// SpeechStream is one open recognition stream.
type SpeechStream interface {
	SendAudio(ctx context.Context, chunk []byte) error
	// Results delivers recognition results and is closed by the backend
	// when the stream ends.
	Results() <-chan Result
	// EndInput signals that no further audio will be sent.
	EndInput() error
}

// SpeechBackend opens recognition streams against a speech service.
type SpeechBackend interface {
	OpenStream(ctx context.Context, settings StreamSettings) (SpeechStream, error)
}

// streamerState tracks the Streamer lifecycle.
type streamerState int

const (
	streamerIdle streamerState = iota
	streamerStreaming
	streamerStopped
)

// Streamer pumps queued audio into a speech stream and republishes
// finalized results with stable speaker names.
type Streamer struct {
	backend  SpeechBackend
	settings StreamSettings

	chunkSize     int
	flushInterval time.Duration

	audioCh chan string
	lines   chan TranscriptLine

	mu         sync.Mutex
	state      streamerState
	stream     SpeechStream
	speakerMap map[string]string

	stopOnce sync.Once
	cancel   context.CancelFunc

	logger *logger.Logger
	now    func() time.Time
}

// NewStreamer builds an idle streamer from the transcribe configuration.
func NewStreamer(backend SpeechBackend, cfg *config.TranscribeConfig, log *logger.Logger) *Streamer {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	flush := time.Duration(cfg.FlushInterval) * time.Millisecond
	if flush <= 0 {
		flush = time.Second
	}
	return &Streamer{
		backend: backend,
		settings: StreamSettings{
			LanguageCode:      cfg.LanguageCode,
			SampleRateHertz:   cfg.SampleRateHertz,
			EnableDiarization: cfg.EnableDiarization,
			MaxSpeakers:       cfg.MaxSpeakers,
			Vocabulary:        cfg.Vocabulary,
		},
		chunkSize:     chunkSize,
		flushInterval: flush,
		audioCh:       make(chan string, 256),
		lines:         make(chan TranscriptLine, 64),
		speakerMap:    make(map[string]string),
		logger:        log,
		now:           time.Now,
	}
}

// AddAudio queues one base64 audio payload. Audio is dropped once the
// streamer has stopped or when the queue is full.
func (s *Streamer) AddAudio(audioBase64 string) {
	s.mu.Lock()
	stopped := s.state == streamerStopped
	s.mu.Unlock()
	if stopped {
		return
	}
	select {
	case s.audioCh <- audioBase64:
	default:
		s.logger.Warn("Transcription audio queue full, dropping chunk")
	}
}

// Run opens the backend stream and returns the transcript channel. The
// channel closes when the stream ends or the backend cannot be reached.
func (s *Streamer) Run(ctx context.Context) <-chan TranscriptLine {
	s.mu.Lock()
	if s.state != streamerIdle {
		s.mu.Unlock()
		closed := make(chan TranscriptLine)
		close(closed)
		return closed
	}
	s.state = streamerStreaming
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	stream, err := s.backend.OpenStream(ctx, s.settings)
	if err != nil {
		s.logger.WithError(err).Error("Speech backend unavailable")
		s.mu.Lock()
		s.state = streamerStopped
		s.mu.Unlock()
		close(s.lines)
		return s.lines
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	go s.audioLoop(ctx, stream)
	go s.resultLoop(stream)
	return s.lines
}

// audioLoop drains the queue, buffering decoded audio into fixed-size
// chunks. A quiet interval flushes whatever is buffered.
func (s *Streamer) audioLoop(ctx context.Context, stream SpeechStream) {
	buffer := make([]byte, 0, s.chunkSize*2)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func(all bool) {
		for len(buffer) >= s.chunkSize {
			if err := stream.SendAudio(ctx, buffer[:s.chunkSize]); err != nil {
				s.logger.WithError(err).Warn("Audio send failed")
				buffer = buffer[:0]
				return
			}
			buffer = append(buffer[:0], buffer[s.chunkSize:]...)
		}
		if all && len(buffer) > 0 {
			if err := stream.SendAudio(ctx, buffer); err != nil {
				s.logger.WithError(err).Warn("Audio flush failed")
			}
			buffer = buffer[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush(true)
			return
		case <-ticker.C:
			flush(true)
		case encoded := <-s.audioCh:
			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				s.logger.WithError(err).Warn("Undecodable audio chunk")
				continue
			}
			buffer = append(buffer, decoded...)
			flush(false)
			ticker.Reset(s.flushInterval)
		}
	}
}

// resultLoop forwards finalized results until the backend closes its
// channel, then closes the transcript channel.
func (s *Streamer) resultLoop(stream SpeechStream) {
	defer close(s.lines)
	defer s.Stop()

	for result := range stream.Results() {
		if result.Partial || result.Text == "" {
			continue
		}
		line := TranscriptLine{
			LineID:     uuid.NewString(),
			Speaker:    s.speakerName(result.SpeakerLabel),
			Text:       result.Text,
			Confidence: result.Confidence,
			StartTime:  result.StartTime,
			EndTime:    result.EndTime,
			Timestamp:  s.now(),
		}
		select {
		case s.lines <- line:
		default:
			s.logger.Warn("Transcript queue full, dropping line")
		}
	}
}

// speakerName maps backend speaker labels to stable conversation roles in
// first-heard order.
func (s *Streamer) speakerName(label string) string {
	if label == "" {
		return "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.speakerMap[label]; ok {
		return name
	}
	var name string
	switch len(s.speakerMap) {
	case 0:
		name = "primary"
	case 1:
		name = "secondary"
	default:
		name = fmt.Sprintf("speaker_%d", len(s.speakerMap)+1)
	}
	s.speakerMap[label] = name
	s.logger.WithFields(map[string]interface{}{"label": label, "speaker": name}).
		Info("Speaker mapped")
	return name
}

// SpeakerMapping returns a copy of the current label-to-role mapping.
func (s *Streamer) SpeakerMapping() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping := make(map[string]string, len(s.speakerMap))
	for label, name := range s.speakerMap {
		mapping[label] = name
	}
	return mapping
}

// Stop ends the stream. It is idempotent: input is ended first so the
// backend can finalize pending results, then the loops are cancelled.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = streamerStopped
		stream := s.stream
		s.mu.Unlock()

		if stream != nil {
			if err := stream.EndInput(); err != nil {
				s.logger.WithError(err).Warn("Ending audio input failed")
			}
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
}
