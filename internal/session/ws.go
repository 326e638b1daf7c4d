package session

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medvoice/voice-emr/internal/diagnosis"
	"github.com/medvoice/voice-emr/internal/fhirstore"
	"github.com/medvoice/voice-emr/internal/patient"
	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
	"github.com/medvoice/voice-emr/pkg/monitoring"
)

// Bridge upgrades client connections and runs one Manager per connection.
type Bridge struct {
	cfg      *config.Config
	store    fhirstore.Store
	diag     *diagnosis.Generator
	logger   *logger.Logger
	metrics  *monitoring.MetricsCollector
	tracing  *monitoring.TracingManager
	upgrader websocket.Upgrader

	// dial is swapped in tests
	dial func(r *http.Request) (ModelStream, error)
}

// NewBridge wires the session entry point. diag may be nil.
func NewBridge(cfg *config.Config, store fhirstore.Store, diag *diagnosis.Generator,
	log *logger.Logger, metrics *monitoring.MetricsCollector, tracing *monitoring.TracingManager) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		store:   store,
		diag:    diag,
		logger:  log,
		metrics: metrics,
		tracing: tracing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	b.dial = func(r *http.Request) (ModelStream, error) {
		return DialModelStream(r.Context(), &cfg.Model, log)
	}
	return b
}

// HandleSession is the websocket endpoint for a voice conversation.
func (b *Bridge) HandleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	patientID := r.URL.Query().Get("patient_id")
	log := b.logger

	stream, err := b.dial(r)
	if err != nil {
		log.WithSession(sessionID).WithError(err).Error("Model stream dial failed")
		conn.WriteJSON(map[string]interface{}{"error": "model stream unavailable"})
		return
	}

	state := patient.New(patientID, log)
	dispatcher := NewToolDispatcher(b.store, state, b.diag, b.cfg.Retry,
		sessionID, log, b.metrics, b.tracing)
	manager := NewManager(sessionID, stream, dispatcher, &b.cfg.Model,
		log, b.metrics, b.tracing)

	ctx := r.Context()
	if err := manager.Start(ctx); err != nil {
		log.WithSession(sessionID).WithError(err).Error("Session start failed")
		return
	}
	defer manager.Close()

	// writer: model events back to the client
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for event := range manager.Output() {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	// reader: client events into the session
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithSession(sessionID).WithError(err).Debug("Client connection closed")
			}
			break
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			log.WithSession(sessionID).WithError(err).Warn("Undecodable client event")
			continue
		}

		if EventName(event) == "audioInput" {
			body := EventBody(event, "audioInput")
			manager.AddAudioChunk(stringField(body, "promptName"),
				stringField(body, "contentName"), stringField(body, "content"))
			continue
		}

		if err := manager.SendEvent(ctx, event); err != nil {
			log.WithSession(sessionID).WithError(err).Warn("Event forward failed")
			break
		}
		if manager.State() != StateActive {
			break
		}
	}

	manager.Close()
	<-writeDone
}
