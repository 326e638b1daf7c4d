package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medvoice/voice-emr/pkg/logger"
)

// WSBackend opens recognition streams against a websocket speech service.
// The service receives a JSON configuration frame followed by binary PCM
// frames, and answers with JSON recognition results.
type WSBackend struct {
	endpoint string
	logger   *logger.Logger
}

// NewWSBackend points the backend at a speech service endpoint.
func NewWSBackend(endpoint string, log *logger.Logger) *WSBackend {
	return &WSBackend{endpoint: endpoint, logger: log}
}

// streamConfig is the opening frame of the backend protocol.
type streamConfig struct {
	LanguageCode     string `json:"language_code"`
	SampleRateHertz  int    `json:"media_sample_rate_hz"`
	ShowSpeakerLabel bool   `json:"show_speaker_label"`
	MaxSpeakers      int    `json:"max_speakers,omitempty"`
	VocabularyName   string `json:"vocabulary_name,omitempty"`
}

// resultFrame is one recognition result from the service.
type resultFrame struct {
	Transcript   string  `json:"transcript"`
	SpeakerLabel string  `json:"speaker_label"`
	Confidence   float64 `json:"confidence"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	IsPartial    bool    `json:"is_partial"`
}

// OpenStream dials the service and sends the configuration frame.
func (b *WSBackend) OpenStream(ctx context.Context, settings StreamSettings) (SpeechStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing speech service: %w", err)
	}

	cfg := streamConfig{
		LanguageCode:     settings.LanguageCode,
		SampleRateHertz:  settings.SampleRateHertz,
		ShowSpeakerLabel: settings.EnableDiarization,
		MaxSpeakers:      settings.MaxSpeakers,
		VocabularyName:   settings.Vocabulary,
	}
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending stream configuration: %w", err)
	}

	stream := &wsSpeechStream{
		conn:    conn,
		results: make(chan Result, 64),
		logger:  b.logger,
	}
	go stream.readLoop()
	return stream, nil
}

type wsSpeechStream struct {
	conn    *websocket.Conn
	results chan Result
	logger  *logger.Logger

	mu    sync.Mutex
	ended bool
}

func (s *wsSpeechStream) SendAudio(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("audio input already ended")
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (s *wsSpeechStream) Results() <-chan Result {
	return s.results
}

// EndInput closes the send side so the service can finalize pending
// results. The results channel closes when the service hangs up.
func (s *wsSpeechStream) EndInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true

	return s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (s *wsSpeechStream) readLoop() {
	defer close(s.results)
	defer s.conn.Close()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Debug("Speech service stream ended")
			}
			return
		}

		var frame resultFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.WithError(err).Warn("Undecodable recognition result")
			continue
		}
		s.results <- Result{
			SpeakerLabel: frame.SpeakerLabel,
			Text:         frame.Transcript,
			Confidence:   frame.Confidence,
			StartTime:    frame.StartTime,
			EndTime:      frame.EndTime,
			Partial:      frame.IsPartial,
		}
	}
}
