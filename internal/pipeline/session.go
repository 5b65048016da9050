package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/capture"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/metrics"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/transcription"
)

// State is the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transcriber is the transcription service as seen by the pipeline
type Transcriber interface {
	StartSession(ctx context.Context) (*transcription.SessionInfo, error)
	Transcribe(ctx context.Context, req transcription.Request) (*transcription.Result, error)
}

// Session describes the current or most recent session
type Session struct {
	ID        string    `json:"id"`
	Key       string    `json:"key,omitempty"`
	State     State     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Err       error     `json:"-"`
}

// SessionStats summarizes the current or most recent session
type SessionStats struct {
	SegmentsAccepted  uint64
	SegmentsDiscarded uint64
	PayloadBytes      int
	AudioDuration     time.Duration
	Dispatch          DispatchStats
	Transcript        TranscriptState
}

// Hooks are optional observers. They are called without internal locks held and
// must not block for long.
type Hooks struct {
	OnStateChange func(state State)
	OnTranscript  func(state TranscriptState)
	OnMilestone   func(charCount int)
	OnError       func(err error)
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Container       audio.Container
	MinSegmentBytes int
	MilestoneChars  int
	MergeMode       MergeMode
	StopTimeout     time.Duration
	Hooks           Hooks
}

// Manager owns the session lifecycle and wires capture, accumulation, dispatch
// and transcript assembly together. It implements capture.Sink and DispatchHandler.
type Manager struct {
	config  ManagerConfig
	client  Transcriber
	source  capture.Source
	gate    *HealthGate
	logger  *slog.Logger
	metrics *metrics.Metrics

	accumulator *ChunkAccumulator
	queue       *DispatchQueue
	assembler   *TranscriptAssembler

	mu            sync.Mutex
	state         State
	session       *Session
	epoch         uint64
	captureCancel context.CancelFunc
	ended         chan struct{}
	accepted      uint64
	discarded     uint64
	payloadBytes  int
	audioDuration time.Duration
}

// NewManager creates an idle manager. gate may be nil to skip health gating.
func NewManager(config ManagerConfig, client Transcriber, source capture.Source, gate *HealthGate, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("capture source cannot be nil")
	}
	if config.Container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 60 * time.Second
	}

	mgr := &Manager{
		config:      config,
		client:      client,
		source:      source,
		gate:        gate,
		logger:      logger,
		metrics:     m,
		accumulator: NewChunkAccumulator(config.Container, config.MinSegmentBytes),
		assembler:   NewTranscriptAssembler(config.MergeMode, config.MilestoneChars),
		state:       StateIdle,
	}
	mgr.queue = NewDispatchQueue(mgr.send, mgr, logger, m)

	return mgr, nil
}

// StartSession starts a session and returns its identifier. While a session is
// active it returns the existing identifier; while another start is in progress
// it fails with ErrAlreadyStarting.
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	switch m.state {
	case StateActive:
		id := m.session.ID
		m.mu.Unlock()
		return id, nil
	case StateStarting:
		m.mu.Unlock()
		return "", ErrAlreadyStarting
	case StateStopping:
		m.mu.Unlock()
		return "", ErrSessionStopping
	}
	previous := m.state
	m.state = StateStarting
	m.mu.Unlock()
	m.notifyState(StateStarting)

	if m.gate != nil {
		if err := m.gate.Allow(ctx); err != nil {
			m.abortStart(previous, "connectivity_lost")
			return "", err
		}
	}

	info, err := m.client.StartSession(ctx)
	if err != nil {
		m.abortStart(previous, "start_failed")
		m.logger.Error("Failed to start session", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", ErrSessionStartFailed, err)
	}

	captureCtx, captureCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.epoch++
	m.accumulator.Reset()
	m.assembler.Reset()
	m.queue.Reset(m.epoch, string(info.SessionID))
	m.accepted, m.discarded, m.payloadBytes, m.audioDuration = 0, 0, 0, 0
	m.session = &Session{
		ID:        string(info.SessionID),
		Key:       info.SessionKey,
		State:     StateActive,
		CreatedAt: time.Now(),
	}
	m.state = StateActive
	m.captureCancel = captureCancel
	m.ended = make(chan struct{})
	epoch := m.epoch
	m.mu.Unlock()

	m.metrics.RecordSessionStarted()
	m.notifyState(StateActive)

	m.logger.Info("Session started",
		slog.String("session_id", string(info.SessionID)),
		slog.String("session_key", info.SessionKey),
		slog.String("status", info.Status),
	)

	if err := m.source.Start(captureCtx, m); err != nil {
		captureErr := fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		m.teardown(epoch, captureErr)
		return "", captureErr
	}

	return string(info.SessionID), nil
}

func (m *Manager) abortStart(previous State, kind string) {
	m.mu.Lock()
	m.state = previous
	m.mu.Unlock()

	m.metrics.RecordSessionFailure(kind)
	m.notifyState(previous)
}

// StopSession stops capture, dispatches one final payload covering all accepted
// audio, waits for outstanding replies and ends the session. It is a no-op unless
// a session is active.
func (m *Manager) StopSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	m.session.State = StateStopping
	epoch := m.epoch
	sessionID := m.session.ID
	m.mu.Unlock()
	m.notifyState(StateStopping)

	m.logger.Info("Stopping session", slog.String("session_id", sessionID))

	stopCtx, cancel := context.WithTimeout(ctx, m.config.StopTimeout)
	defer cancel()

	if err := m.source.Stop(stopCtx); err != nil {
		m.logger.Warn("Capture source did not stop cleanly",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	if m.state != StateStopping || m.epoch != epoch {
		// torn down by a capture failure while stopping
		m.mu.Unlock()
		return nil
	}
	payload, err := m.accumulator.Current()
	if err != nil {
		m.logger.Error("Failed to build final payload",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	if payload != nil {
		payload.Final = true
		m.payloadBytes = len(payload.Data)
		m.metrics.RecordPayload(len(payload.Data))
		req := m.queue.Submit(payload)
		m.logger.Info("Dispatched final payload",
			slog.String("session_id", sessionID),
			slog.Uint64("request", req.ID),
			slog.Int("bytes", len(payload.Data)),
			slog.Int("segments", payload.Segments),
		)
	}
	m.mu.Unlock()

	if err := m.queue.Drain(stopCtx); err != nil {
		m.logger.Warn("Final transcription did not complete before timeout",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	m.teardown(epoch, nil)
	return nil
}

// teardown ends the session of the given generation. A non-nil cause marks an
// unrecoverable failure: pending work is dropped and nothing is flushed.
func (m *Manager) teardown(epoch uint64, cause error) {
	m.mu.Lock()
	if m.epoch != epoch || m.state == StateEnded || m.state == StateIdle {
		m.mu.Unlock()
		return
	}

	m.state = StateEnded
	session := m.session
	session.State = StateEnded
	session.EndedAt = time.Now()
	session.Err = cause
	if cause != nil {
		m.queue.ClearPending()
	}
	if m.captureCancel != nil {
		m.captureCancel()
		m.captureCancel = nil
	}
	ended := m.ended
	m.mu.Unlock()

	duration := session.EndedAt.Sub(session.CreatedAt)
	m.metrics.RecordSessionStopped(duration.Seconds())

	if cause != nil {
		m.metrics.RecordSessionFailure("capture_unavailable")
		m.logger.Error("Session torn down",
			slog.String("session_id", session.ID),
			slog.String("error", cause.Error()),
		)
		m.notifyError(cause)
	} else {
		m.logger.Info("Session ended",
			slog.String("session_id", session.ID),
			slog.Duration("duration", duration),
		)
	}

	m.notifyState(StateEnded)
	close(ended)
}

// OnSegment implements capture.Sink
func (m *Manager) OnSegment(seg audio.Segment) {
	m.metrics.RecordSegmentCaptured()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive && m.state != StateStopping {
		m.discarded++
		m.metrics.RecordSegmentDiscarded("no_session")
		return
	}

	payload, err := m.accumulator.OnSegmentCaptured(seg)
	if err != nil {
		m.discarded++
		reason := "invalid"
		switch {
		case errors.Is(err, ErrSegmentTooSmall):
			reason = "too_small"
		case errors.Is(err, ErrSegmentOutOfOrder):
			reason = "out_of_order"
		}
		m.metrics.RecordSegmentDiscarded(reason)
		m.logger.Debug("Segment discarded",
			slog.Uint64("sequence", seg.Sequence),
			slog.Int("bytes", seg.Size()),
			slog.String("reason", err.Error()),
		)
		return
	}

	m.accepted++
	m.audioDuration = payload.Duration

	// while stopping, the final flush sends everything in one payload
	if m.state == StateStopping {
		return
	}

	m.payloadBytes = len(payload.Data)
	m.metrics.RecordPayload(len(payload.Data))
	m.queue.Submit(payload)
}

// OnError implements capture.Sink. Any capture failure ends the session at once.
func (m *Manager) OnError(err error) {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	m.teardown(epoch, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err))
}

func (m *Manager) send(ctx context.Context, req *DispatchRequest) (*transcription.Result, error) {
	return m.client.Transcribe(ctx, transcription.Request{
		SessionID:   req.SessionID,
		Sequence:    req.ID,
		Data:        req.Payload.Data,
		ContentType: req.Payload.ContentType,
		Extension:   req.Payload.Extension,
	})
}

// OnDispatchResult implements DispatchHandler
func (m *Manager) OnDispatchResult(req *DispatchRequest, res *transcription.Result) {
	m.mu.Lock()
	if req.Epoch != m.epoch || (m.state != StateActive && m.state != StateStopping) {
		m.mu.Unlock()
		return
	}
	update := m.assembler.OnResult(res.Text)
	m.mu.Unlock()

	if !update.Applied {
		m.logger.Debug("No speech detected", slog.Uint64("request", req.ID))
		return
	}

	m.metrics.SetTranscriptChars(update.State.CharCount)
	m.logger.Debug("Transcript updated",
		slog.Uint64("request", req.ID),
		slog.Int("char_count", update.State.CharCount),
	)

	if m.config.Hooks.OnTranscript != nil {
		m.config.Hooks.OnTranscript(update.State)
	}

	if update.Milestone {
		m.metrics.RecordMilestone()
		m.logger.Info("Transcript milestone reached", slog.Int("char_count", update.State.CharCount))
		if m.config.Hooks.OnMilestone != nil {
			m.config.Hooks.OnMilestone(update.State.CharCount)
		}
	}
}

// OnDispatchError implements DispatchHandler. The failure is reported and the
// session continues; the next cumulative payload covers the lost audio.
func (m *Manager) OnDispatchError(req *DispatchRequest, err error) {
	m.mu.Lock()
	current := req.Epoch == m.epoch && (m.state == StateActive || m.state == StateStopping)
	m.mu.Unlock()
	if !current {
		return
	}

	m.metrics.RecordSessionFailure("transcription_failed")
	m.logger.Warn("Transcription request failed",
		slog.String("session_id", req.SessionID),
		slog.Uint64("request", req.ID),
		slog.String("error", err.Error()),
	)
	m.notifyError(fmt.Errorf("%w: %w", ErrTranscriptionFailed, err))
}

func (m *Manager) notifyState(state State) {
	if m.config.Hooks.OnStateChange != nil {
		m.config.Hooks.OnStateChange(state)
	}
}

func (m *Manager) notifyError(err error) {
	if m.config.Hooks.OnError != nil {
		m.config.Hooks.OnError(err)
	}
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current or most recent session, or nil
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Transcript returns the transcript of the current or most recent session
func (m *Manager) Transcript() TranscriptState {
	return m.assembler.Snapshot()
}

// Done is closed when the current session ends. It is nil before the first start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// Stats returns counters for the current or most recent session
func (m *Manager) Stats() SessionStats {
	m.mu.Lock()
	stats := SessionStats{
		SegmentsAccepted:  m.accepted,
		SegmentsDiscarded: m.discarded,
		PayloadBytes:      m.payloadBytes,
		AudioDuration:     m.audioDuration,
	}
	m.mu.Unlock()

	stats.Dispatch = m.queue.Stats()
	stats.Transcript = m.assembler.Snapshot()
	return stats
}

// Close stops an active session and cancels outstanding requests
func (m *Manager) Close(ctx context.Context) error {
	err := m.StopSession(ctx)
	m.queue.Close()
	return err
}
