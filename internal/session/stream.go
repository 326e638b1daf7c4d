package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medvoice/voice-emr/pkg/config"
	"github.com/medvoice/voice-emr/pkg/logger"
)

// ErrReceiveTimeout reports that no event arrived within the configured
// window. The caller keeps the session alive with a heartbeat; the stream
// stays usable and later events are still delivered.
var ErrReceiveTimeout = errors.New("timed out waiting for stream output")

// ErrStreamClosed reports that the stream has been closed.
var ErrStreamClosed = errors.New("model stream is closed")

// ModelStream is a bidirectional event stream to the speech model.
type ModelStream interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	CloseSend() error
}

type recvResult struct {
	payload []byte
	err     error
}

// wsModelStream speaks the event protocol over a websocket connection.
// A dedicated reader goroutine owns the socket's read side; Receive only
// waits on its channel, so a timeout never touches the connection. Read
// errors on the underlying connection are permanent, which is why the
// receive timeout must stay off the socket.
type wsModelStream struct {
	conn *websocket.Conn

	// eventTimeout bounds the wait for the next complete event in
	// Receive; writeTimeout bounds a single Send.
	eventTimeout time.Duration
	writeTimeout time.Duration

	recvCh chan recvResult
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// DialModelStream connects to the configured model endpoint. EventTimeout
// becomes the per-Receive wait and ChunkTimeout the per-Send write bound.
func DialModelStream(ctx context.Context, cfg *config.ModelConfig, log *logger.Logger) (ModelStream, error) {
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	url := cfg.Endpoint + "/model/" + cfg.ModelID + "/stream"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing model stream: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing model stream: %w", err)
	}

	log.WithField("model_id", cfg.ModelID).Info("Model stream connected")
	s := &wsModelStream{
		conn:         conn,
		eventTimeout: time.Duration(cfg.EventTimeout) * time.Second,
		writeTimeout: time.Duration(cfg.ChunkTimeout) * time.Second,
		recvCh:       make(chan recvResult),
		done:         make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// readLoop pumps messages from the socket into recvCh. It exits on the
// first read error or once the stream is closed, closing recvCh so that
// pending and future Receives observe the end of the stream.
func (s *wsModelStream) readLoop() {
	defer close(s.recvCh)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.recvCh <- recvResult{err: err}:
			case <-s.done:
			}
			return
		}
		select {
		case s.recvCh <- recvResult{payload: payload}:
		case <-s.done:
			return
		}
	}
}

func (s *wsModelStream) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsModelStream) Receive(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(s.eventTimeout)
	defer timer.Stop()

	select {
	case res, open := <-s.recvCh:
		if !open {
			return nil, ErrStreamClosed
		}
		return res.payload, res.err
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsModelStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
