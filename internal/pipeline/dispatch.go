package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/metrics"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/transcription"
)

// DispatchRequest is a payload queued for transcription
type DispatchRequest struct {
	ID          uint64 // strictly increasing within a session, starting at 1
	Epoch       uint64 // session generation the request belongs to
	SessionID   string
	Payload     *Payload
	SubmittedAt time.Time
}

// SendFunc performs one transcription call
type SendFunc func(ctx context.Context, req *DispatchRequest) (*transcription.Result, error)

// DispatchHandler receives the outcome of every sent request, serially and in send order
type DispatchHandler interface {
	OnDispatchResult(req *DispatchRequest, res *transcription.Result)
	OnDispatchError(req *DispatchRequest, err error)
}

// DispatchStats is a snapshot of the queue counters for the current session
type DispatchStats struct {
	Submitted uint64 `json:"submitted"`
	Sent      uint64 `json:"sent"`
	Coalesced uint64 `json:"coalesced"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	InFlight  bool   `json:"in_flight"`
	Pending   bool   `json:"pending"`
}

// DispatchQueue keeps at most one request in flight. Submissions that arrive while
// a request is outstanding replace the single pending slot, so only the freshest
// payload is sent next.
type DispatchQueue struct {
	send    SendFunc
	handler DispatchHandler
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	epoch     uint64
	sessionID string
	counter   uint64
	inFlight  *DispatchRequest
	pending   *DispatchRequest
	idle      chan struct{} // closed while nothing is in flight
	stats     DispatchStats
}

// NewDispatchQueue creates an idle queue
func NewDispatchQueue(send SendFunc, handler DispatchHandler, logger *slog.Logger, m *metrics.Metrics) *DispatchQueue {
	ctx, cancel := context.WithCancel(context.Background())

	idle := make(chan struct{})
	close(idle)

	return &DispatchQueue{
		send:    send,
		handler: handler,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
	}
}

// Reset starts a new session generation: the pending slot and counters are cleared.
// A request already in flight is allowed to finish; its outcome is discarded.
func (q *DispatchQueue) Reset(epoch uint64, sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.epoch = epoch
	q.sessionID = sessionID
	q.counter = 0
	q.pending = nil
	q.stats = DispatchStats{}
}

// ClearPending drops the queued payload without touching the in-flight request
func (q *DispatchQueue) ClearPending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// Submit enqueues payload. It never blocks on I/O.
func (q *DispatchQueue) Submit(payload *Payload) *DispatchRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	req := &DispatchRequest{
		ID:          q.counter,
		Epoch:       q.epoch,
		SessionID:   q.sessionID,
		Payload:     payload,
		SubmittedAt: time.Now(),
	}
	q.stats.Submitted++

	if q.inFlight != nil {
		if q.pending != nil {
			q.stats.Coalesced++
			q.metrics.RecordDispatchCoalesced()
			q.logger.Debug("Coalesced queued payload",
				slog.Uint64("dropped_request", q.pending.ID),
				slog.Uint64("request", req.ID),
			)
		}
		q.pending = req
		return req
	}

	q.inFlight = req
	q.idle = make(chan struct{})
	go q.run(req)

	return req
}

// run sends requests one at a time until the pending slot is empty
func (q *DispatchQueue) run(req *DispatchRequest) {
	for req != nil {
		q.mu.Lock()
		q.stats.Sent++
		q.mu.Unlock()
		q.metrics.RecordDispatchSent()

		q.logger.Debug("Sending payload",
			slog.Uint64("request", req.ID),
			slog.String("session_id", req.SessionID),
			slog.Int("bytes", len(req.Payload.Data)),
			slog.Int("segments", req.Payload.Segments),
		)

		startTime := time.Now()
		res, err := q.send(q.ctx, req)
		q.metrics.RecordDispatchDone(err == nil, time.Since(startTime).Seconds())

		q.mu.Lock()
		current := req.Epoch == q.epoch
		if current {
			if err != nil {
				q.stats.Failed++
			} else {
				q.stats.Succeeded++
			}
		}
		q.mu.Unlock()

		// Handlers run while the in-flight slot is still held so a Submit from
		// inside a handler lands in the pending slot.
		switch {
		case !current:
			q.logger.Debug("Discarding reply from previous session", slog.Uint64("request", req.ID))
		case err != nil:
			q.handler.OnDispatchError(req, err)
		default:
			q.handler.OnDispatchResult(req, res)
		}

		q.mu.Lock()
		req = q.pending
		q.pending = nil
		q.inFlight = req
		if req == nil {
			close(q.idle)
		}
		q.mu.Unlock()
	}
}

// Drain waits until nothing is in flight or pending
func (q *DispatchQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the counters for the current session
func (q *DispatchQueue) Stats() DispatchStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.InFlight = q.inFlight != nil
	stats.Pending = q.pending != nil
	return stats
}

// Close cancels the request in flight and drops the pending one
func (q *DispatchQueue) Close() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
	q.cancel()
}
