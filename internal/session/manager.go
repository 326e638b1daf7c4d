package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

// State is the session lifecycle phase.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// audioChunk is one base64 audio payload queued for the model stream.
type audioChunk struct {
	promptName  string
	contentName string
	audioBase64 string
}

// Manager owns one conversational session: it forwards client events and
// audio to the model stream, relays model output to the client, and runs
// tool calls when the model asks for them.
type Manager struct {
	sessionID  string
	stream     ModelStream
	dispatcher *ToolDispatcher
	cfg        *config.ModelConfig
	logger     *logger.Logger
	metrics    *monitoring.MetricsCollector
	tracing    *monitoring.TracingManager

	mu    sync.Mutex
	state State

	audioCh  chan audioChunk
	outputCh chan Event

	cancel      context.CancelFunc
	dispatchWG  sync.WaitGroup
	closeOnce   sync.Once
	startedAt   time.Time
	sessionSpan trace.Span

	// toolUse mailbox, written and read only by the event loop
	pendingToolName    string
	pendingToolUseID   string
	pendingToolContent string

	now func() time.Time
}

// NewManager builds an uninitialized session around an open model stream.
func NewManager(sessionID string, stream ModelStream, dispatcher *ToolDispatcher,
	cfg *config.ModelConfig, log *logger.Logger,
	metrics *monitoring.MetricsCollector, tracing *monitoring.TracingManager) *Manager {
	return &Manager{
		sessionID:  sessionID,
		stream:     stream,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log,
		metrics:    metrics,
		tracing:    tracing,
		state:      StateUninitialized,
		audioCh:    make(chan audioChunk, 64),
		outputCh:   make(chan Event, 256),
		now:        time.Now,
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Output delivers model events, in arrival order, to the client bridge.
// The channel is closed when the session closes.
func (m *Manager) Output() <-chan Event {
	return m.outputCh
}

// Start activates the session and launches the audio forwarder and the
// model event loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot start session in state %s", state)
	}
	m.state = StateActive
	m.startedAt = m.now()
	m.mu.Unlock()

	ctx, m.cancel = context.WithCancel(ctx)
	ctx, m.sessionSpan = m.tracing.StartSessionSpan(ctx, m.sessionID)
	m.metrics.SessionStarted()
	m.logger.WithSession(m.sessionID).Info("Session started")

	go m.audioLoop(ctx)
	go m.eventLoop(ctx)
	return nil
}

// SendEvent forwards a client event to the model stream. A sessionEnd
// event also closes the session after forwarding.
func (m *Manager) SendEvent(ctx context.Context, event Event) error {
	if m.State() != StateActive {
		return ErrStreamClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := m.stream.Send(ctx, payload); err != nil {
		return err
	}

	if EventName(event) == "sessionEnd" {
		m.Close()
	}
	return nil
}

// AddAudioChunk queues one base64 audio payload for the model. Chunks are
// dropped once the session is no longer active.
func (m *Manager) AddAudioChunk(promptName, contentName, audioBase64 string) {
	if m.State() != StateActive {
		return
	}
	select {
	case m.audioCh <- audioChunk{promptName, contentName, audioBase64}:
	default:
		m.logger.WithSession(m.sessionID).Warn("Audio queue full, dropping chunk")
	}
}

func (m *Manager) audioLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-m.audioCh:
			if chunk.promptName == "" || chunk.contentName == "" || chunk.audioBase64 == "" {
				continue
			}
			event := AudioInput(chunk.promptName, chunk.contentName, chunk.audioBase64)
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := m.stream.Send(ctx, payload); err != nil {
				if ctx.Err() == nil && !errors.Is(err, ErrStreamClosed) {
					m.logger.WithSession(m.sessionID).WithError(err).Warn("Audio forward failed")
				}
				return
			}
		}
	}
}

// eventLoop drains the model stream until it fails or the session closes.
func (m *Manager) eventLoop(ctx context.Context) {
	defer m.Close()

	for {
		payload, err := m.stream.Receive(ctx)
		if errors.Is(err, ErrReceiveTimeout) {
			m.metrics.RecordStreamTimeout()
			heartbeat := Heartbeat(uuid.NewString(), m.now())
			if raw, mErr := json.Marshal(heartbeat); mErr == nil {
				if sErr := m.stream.Send(ctx, raw); sErr != nil && !errors.Is(sErr, ErrStreamClosed) {
					m.logger.WithSession(m.sessionID).WithError(sErr).Warn("Heartbeat send failed")
				}
			}
			m.emit(heartbeat)
			continue
		}
		if err != nil {
			if ctx.Err() == nil && m.State() == StateActive {
				m.logger.WithSession(m.sessionID).WithError(err).Error("Model stream failed")
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			m.emit(Event{"raw_data": string(payload)})
			continue
		}
		if len(event) == 0 {
			// a JSON null or bare {} carries nothing; the null case
			// leaves the map nil and must not be written to
			continue
		}
		event["timestamp"] = m.now().UnixMilli()

		name := EventName(event)
		m.metrics.RecordStreamEvent(name)

		switch name {
		case "toolUse":
			body := EventBody(event, "toolUse")
			m.pendingToolName = stringField(body, "toolName")
			m.pendingToolUseID = stringField(body, "toolUseId")
			m.pendingToolContent = stringField(body, "content")
		case "contentEnd":
			body := EventBody(event, "contentEnd")
			if stringField(body, "type") == "TOOL" && m.pendingToolName != "" {
				m.emit(event)
				m.runTool(ctx, stringField(body, "promptName"))
				continue
			}
		}

		m.emit(event)
	}
}

// runTool dispatches the pending toolUse and feeds the result back to the
// model as a contentStart, toolResult, contentEnd triple. Each synthesized
// event is also mirrored to the client.
func (m *Manager) runTool(ctx context.Context, promptName string) {
	toolName := m.pendingToolName
	toolUseID := m.pendingToolUseID
	toolContent := m.pendingToolContent
	m.pendingToolName = ""
	m.pendingToolUseID = ""
	m.pendingToolContent = ""

	m.dispatchWG.Add(1)
	defer m.dispatchWG.Done()

	result := m.dispatcher.Dispatch(ctx, toolName, toolUseID, toolContent)
	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte(`{"result": "` + toolErrorResult + `"}`)
	}

	contentName := uuid.NewString()
	responses := []Event{
		ContentStartTool(promptName, contentName, toolUseID),
		ToolResult(promptName, contentName, string(resultJSON)),
		ContentEnd(promptName, contentName),
	}
	for _, response := range responses {
		payload, err := json.Marshal(response)
		if err != nil {
			continue
		}
		if err := m.stream.Send(ctx, payload); err != nil {
			m.logger.WithSession(m.sessionID).WithError(err).Warn("Tool result send failed")
		}
		response["timestamp"] = m.now().UnixMilli()
		m.emit(response)
	}
}

// emit pushes an event to the client, dropping it if the bridge cannot
// keep up. The lock keeps the send ordered against channel close.
func (m *Manager) emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	select {
	case m.outputCh <- event:
	default:
		m.logger.WithSession(m.sessionID).Warn("Output queue full, dropping event")
	}
}

// Close shuts the session down. It is idempotent and waits a bounded grace
// period for an in-flight tool dispatch before tearing down the stream.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = StateClosing
		m.mu.Unlock()

		grace := time.Duration(m.cfg.CloseGrace) * time.Second
		done := make(chan struct{})
		go func() {
			m.dispatchWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			m.logger.WithSession(m.sessionID).Warn("Close grace expired with tool call in flight")
		}

		if err := m.stream.CloseSend(); err != nil {
			m.logger.WithSession(m.sessionID).WithError(err).Debug("Stream close error")
		}
		if m.cancel != nil {
			m.cancel()
		}

		m.mu.Lock()
		m.state = StateClosed
		close(m.outputCh)
		m.mu.Unlock()

		if m.sessionSpan != nil {
			monitoring.EndSpan(m.sessionSpan, nil)
		}
		m.metrics.SessionEnded(m.now().Sub(m.startedAt))
		m.logger.WithSession(m.sessionID).Info("Session closed")
	})
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}
