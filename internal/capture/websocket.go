package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
)

const (
	writeWait      = 10 * time.Second
	maxSegmentSize = 32 << 20
)

// controlMessage is the JSON envelope exchanged with the capture page
type controlMessage struct {
	Type        string       `json:"type"`
	Constraints *Constraints `json:"constraints,omitempty"`
	TimesliceMS int64        `json:"timeslice_ms,omitempty"`
	MIMEType    string       `json:"mime_type,omitempty"`

	// error reports from the page
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`

	// transcript updates to the page
	Text      string `json:"text,omitempty"`
	CharCount int    `json:"char_count,omitempty"`
	Milestone bool   `json:"milestone,omitempty"`
}

// WebSocketSource ingests MediaRecorder segments from a browser capture page
type WebSocketSource struct {
	constraints  Constraints
	mimeType     string
	startTimeout time.Duration
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	incoming chan *websocket.Conn

	mu       sync.Mutex
	conn     *websocket.Conn
	running  bool
	stopping bool
	done     chan struct{}

	writeMu sync.Mutex
}

// NewWebSocketSource creates a source that waits up to startTimeout for a page to connect
func NewWebSocketSource(constraints Constraints, mimeType string, startTimeout time.Duration, logger *slog.Logger) *WebSocketSource {
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}
	done := make(chan struct{})
	close(done)

	return &WebSocketSource{
		constraints:  constraints,
		mimeType:     mimeType,
		startTimeout: startTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		incoming: make(chan *websocket.Conn, 1),
		done:     done,
	}
}

// ServeHTTP upgrades a capture page connection. Only one page is served at a time.
func (s *WebSocketSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade capture connection", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxSegmentSize)

	s.mu.Lock()
	busy := s.running
	var previous *websocket.Conn
	if !busy {
		previous = s.conn
		s.conn = nil
	}
	s.mu.Unlock()

	if busy {
		s.logger.Warn("Rejecting capture connection while a session is running",
			slog.String("remote_addr", r.RemoteAddr))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "capture busy")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	// a newer page replaces an idle one
	if previous != nil {
		previous.Close()
	}
	select {
	case old := <-s.incoming:
		old.Close()
	default:
	}
	s.incoming <- conn

	s.logger.Info("Capture page connected", slog.String("remote_addr", r.RemoteAddr))
}

// Start implements Source. It waits for a page, sends the capture constraints and
// returns once the page confirms that recording started.
func (s *WebSocketSource) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("websocket source already running")
	}
	conn := s.conn
	s.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	if conn == nil {
		s.logger.Info("Waiting for capture page to connect")
		select {
		case conn = <-s.incoming:
		case <-startCtx.Done():
			return fmt.Errorf("%w: no capture page connected: %w", ErrDeviceUnavailable, startCtx.Err())
		}
	}

	start := controlMessage{
		Type:        "start",
		Constraints: &s.constraints,
		TimesliceMS: s.constraints.SegmentInterval.Milliseconds(),
		MIMEType:    s.mimeType,
	}
	if err := s.writeJSON(conn, start); err != nil {
		conn.Close()
		return fmt.Errorf("%w: failed to send start: %w", ErrDeviceUnavailable, err)
	}

	deadline, _ := startCtx.Deadline()
	if err := s.awaitStarted(conn, deadline); err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.stopping = false
	s.done = done
	s.mu.Unlock()

	go s.readLoop(ctx, conn, sink, done)

	s.logger.Info("Browser capture started",
		slog.Int64("timeslice_ms", start.TimesliceMS),
		slog.Bool("echo_cancellation", s.constraints.EchoCancellation),
		slog.Bool("noise_suppression", s.constraints.NoiseSuppression),
	)

	return nil
}

// awaitStarted reads control messages until the page confirms or refuses the start
func (s *WebSocketSource) awaitStarted(conn *websocket.Conn, deadline time.Time) error {
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: capture page did not confirm start: %w", ErrDeviceUnavailable, err)
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Ignoring malformed control message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "started":
			return nil
		case "error":
			s.keepConn(conn)
			return pageError(msg)
		}
	}
}

func (s *WebSocketSource) keepConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// readLoop delivers binary messages as segments until the page confirms stop,
// the connection fails, or ctx is cancelled
func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, sink Sink, done chan struct{}) {
	finished := make(chan struct{})
	defer func() {
		close(finished)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	// unblock ReadMessage on abort
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-finished:
		}
	}()

	var seq uint64
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.dropConn(conn)
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				s.logger.Warn("Capture page disconnected while stopping", slog.String("error", err.Error()))
				return
			}
			sink.OnError(fmt.Errorf("%w: capture connection lost: %w", ErrDeviceUnavailable, err))
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			s.mu.Lock()
			final := s.stopping
			s.mu.Unlock()

			seq++
			sink.OnSegment(audio.Segment{
				Sequence:   seq,
				Data:       data,
				CapturedAt: time.Now(),
				Duration:   s.constraints.SegmentInterval,
				Final:      final,
			})

		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn("Ignoring malformed control message", slog.String("error", err.Error()))
				continue
			}
			switch msg.Type {
			case "stopped":
				return
			case "error":
				sink.OnError(pageError(msg))
				return
			}
		}
	}
}

func (s *WebSocketSource) dropConn(conn *websocket.Conn) {
	conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// Stop implements Source. The page flushes its last partial segment before
// confirming, so the tail arrives before Stop returns.
func (s *WebSocketSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	conn, done := s.conn, s.done
	s.mu.Unlock()

	if conn != nil {
		if err := s.writeJSON(conn, controlMessage{Type: "stop"}); err != nil {
			s.logger.Warn("Failed to send stop to capture page", slog.String("error", err.Error()))
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if conn != nil {
			s.dropConn(conn)
		}
		return ctx.Err()
	}
}

// Done implements Source
func (s *WebSocketSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// SendTranscript pushes the running transcript to the connected page
func (s *WebSocketSource) SendTranscript(text string, charCount int, milestone bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	return s.writeJSON(conn, controlMessage{
		Type:      "transcript",
		Text:      text,
		CharCount: charCount,
		Milestone: milestone,
	})
}

// Close disconnects the page
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *WebSocketSource) writeJSON(conn *websocket.Conn, msg controlMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// pageError maps a getUserMedia/MediaRecorder error name to a capture error
func pageError(msg controlMessage) error {
	var kind error
	switch msg.Name {
	case "NotAllowedError", "SecurityError", "PermissionDeniedError":
		kind = ErrPermissionDenied
	default:
		kind = ErrDeviceUnavailable
	}
	if msg.Message == "" {
		return fmt.Errorf("%w: %s", kind, msg.Name)
	}
	return fmt.Errorf("%w: %s: %s", kind, msg.Name, msg.Message)
}

// IsPermissionDenied reports whether err was caused by a refused microphone permission
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
