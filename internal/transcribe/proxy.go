package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

// clientMessage is the inbound proxy protocol frame.
type clientMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	AudioData string          `json:"audio_data"`
	Config    json.RawMessage `json:"config"`
}

// startConfig carries optional start_transcription overrides. Fields may
// arrive nested under config or flat on the frame.
type startConfig struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

// Proxy serves the transcription websocket protocol: clients start named
// sessions, stream base64 audio chunks, and receive diarized results.
type Proxy struct {
	backend  SpeechBackend
	cfg      *config.TranscribeConfig
	logger   *logger.Logger
	metrics  *monitoring.MetricsCollector
	upgrader websocket.Upgrader
}

// NewProxy wires the proxy endpoint.
func NewProxy(backend SpeechBackend, cfg *config.TranscribeConfig,
	log *logger.Logger, metrics *monitoring.MetricsCollector) *Proxy {
	return &Proxy{
		backend: backend,
		cfg:     cfg,
		logger:  log,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// proxyConn tracks the sessions owned by one client connection.
type proxyConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Streamer
}

func (pc *proxyConn) send(payload interface{}) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	return pc.conn.WriteJSON(payload)
}

func (pc *proxyConn) sendError(message string) {
	pc.send(map[string]interface{}{"type": "error", "message": message})
}

// HandleConnection is the websocket endpoint. Sessions started on a
// connection are stopped when the connection goes away.
func (p *Proxy) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	pc := &proxyConn{conn: conn, sessions: make(map[string]*Streamer)}
	defer p.cleanup(pc)

	ctx := r.Context()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.WithError(err).Debug("Transcription connection closed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			pc.sendError("invalid JSON format")
			continue
		}

		switch msg.Type {
		case "start_transcription":
			p.startSession(ctx, pc, &msg)
		case "audio_chunk":
			p.handleAudio(pc, &msg)
		case "stop_transcription":
			p.stopSession(pc, &msg)
		default:
			p.logger.WithField("type", msg.Type).Warn("Unknown message type")
			pc.sendError(fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (p *Proxy) startSession(ctx context.Context, pc *proxyConn, msg *clientMessage) {
	var start startConfig
	if len(msg.Config) > 0 {
		if err := json.Unmarshal(msg.Config, &start); err != nil {
			pc.sendError("invalid start_transcription config")
			return
		}
	}
	if start.SessionID == "" {
		start.SessionID = msg.SessionID
	}
	if start.SessionID == "" {
		start.SessionID = uuid.NewString()
	}

	pc.mu.Lock()
	if _, exists := pc.sessions[start.SessionID]; exists {
		pc.mu.Unlock()
		pc.sendError(fmt.Sprintf("session already active: %s", start.SessionID))
		return
	}
	pc.mu.Unlock()

	cfg := *p.cfg
	if start.Language != "" {
		cfg.LanguageCode = start.Language
	}

	streamer := NewStreamer(p.backend, &cfg, p.logger)
	lines := streamer.Run(ctx)

	pc.mu.Lock()
	pc.sessions[start.SessionID] = streamer
	pc.mu.Unlock()

	go p.pumpResults(pc, start.SessionID, lines)

	pc.send(map[string]interface{}{
		"type":       "transcription_started",
		"session_id": start.SessionID,
		"status":     "success",
	})
	p.logger.WithSession(start.SessionID).Info("Transcription session started")
}

// pumpResults relays transcript lines until the streamer channel closes.
func (p *Proxy) pumpResults(pc *proxyConn, sessionID string, lines <-chan TranscriptLine) {
	for line := range lines {
		p.metrics.RecordTranscriptLine()
		err := pc.send(map[string]interface{}{
			"type":       "transcription_result",
			"session_id": sessionID,
			"transcript": line.Text,
			"speaker":    line.Speaker,
			"confidence": line.Confidence,
			"is_partial": false,
			"start_time": line.StartTime,
			"end_time":   line.EndTime,
			"timestamp":  line.Timestamp,
		})
		if err != nil {
			return
		}
	}
}

func (p *Proxy) handleAudio(pc *proxyConn, msg *clientMessage) {
	pc.mu.Lock()
	streamer := pc.sessions[msg.SessionID]
	pc.mu.Unlock()

	if streamer == nil {
		p.logger.WithField("session_id", msg.SessionID).Warn("Audio chunk for unknown session")
		return
	}
	if msg.AudioData == "" {
		p.logger.WithSession(msg.SessionID).Warn("Empty audio chunk")
		return
	}
	streamer.AddAudio(msg.AudioData)
}

func (p *Proxy) stopSession(pc *proxyConn, msg *clientMessage) {
	pc.mu.Lock()
	streamer := pc.sessions[msg.SessionID]
	delete(pc.sessions, msg.SessionID)
	pc.mu.Unlock()

	if streamer == nil {
		p.logger.WithField("session_id", msg.SessionID).Warn("Stop request for unknown session")
		return
	}

	streamer.Stop()
	pc.send(map[string]interface{}{
		"type":       "transcription_stopped",
		"session_id": msg.SessionID,
		"status":     "success",
	})
	p.logger.WithSession(msg.SessionID).Info("Transcription session stopped")
}

// cleanup stops every session still owned by a disconnected client.
func (p *Proxy) cleanup(pc *proxyConn) {
	pc.mu.Lock()
	sessions := pc.sessions
	pc.sessions = make(map[string]*Streamer)
	pc.mu.Unlock()

	for sessionID, streamer := range sessions {
		p.logger.WithSession(sessionID).Info("Cleaning up transcription session")
		streamer.Stop()
	}
}
