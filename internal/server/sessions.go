package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// Session is a snapshot of one transcription session held by the service
type Session struct {
	ID           int
	Key          string
	CreatedAt    time.Time
	LastActivity time.Time
	CharCount    int
	Fragments    int
}

// StartResult describes the outcome of a session start
type StartResult struct {
	Session
	Reused bool
	Age    time.Duration
}

// SessionRegistry tracks sessions, the active one, and per-session character counts
type SessionRegistry struct {
	sessions    map[int]*Session
	nextID      int
	active      int // 0 when no session is active
	reuseWindow time.Duration
	expiry      time.Duration
	now         func() time.Time

	logger *slog.Logger
	mu     sync.RWMutex

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewSessionRegistry creates a registry. Session ids start at 1.
func NewSessionRegistry(reuseWindow, expiry time.Duration, logger *slog.Logger) *SessionRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	cleanup := make(chan struct{})
	close(cleanup)

	return &SessionRegistry{
		sessions:    make(map[int]*Session),
		nextID:      1,
		reuseWindow: reuseWindow,
		expiry:      expiry,
		now:         time.Now,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     cleanup,
	}
}

// SessionKey formats a session id the way transcript files are named
func SessionKey(id int) string {
	return fmt.Sprintf("%03d", id)
}

// Start reuses the active session when it was created within the reuse window,
// otherwise it creates and activates the next session.
func (r *SessionRegistry) Start() StartResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if current, ok := r.sessions[r.active]; ok {
		age := now.Sub(current.CreatedAt)
		if age < r.reuseWindow {
			current.LastActivity = now
			r.logger.Info("Reusing recent session",
				slog.String("session_key", current.Key),
				slog.Duration("age", age),
			)
			return StartResult{Session: *current, Reused: true, Age: age}
		}
	}

	id := r.nextID
	r.nextID++

	session := &Session{
		ID:           id,
		Key:          SessionKey(id),
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[id] = session
	r.active = id

	r.logger.Info("Started new session", slog.String("session_key", session.Key))

	return StartResult{Session: *session}
}

// Active returns the active session and marks it as used
func (r *SessionRegistry) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[r.active]
	if !ok {
		return Session{}, false
	}
	session.LastActivity = r.now()
	return *session, true
}

// ActiveID returns the active session id without touching it
func (r *SessionRegistry) ActiveID() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[r.active]
	return r.active, ok
}

// Get returns the session with the given id and marks it as used
func (r *SessionRegistry) Get(id int) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	session.LastActivity = r.now()
	return *session, true
}

// AddText adds recognized text to a session's character count. The milestone
// fires whenever the count crosses a multiple of milestoneChars.
func (r *SessionRegistry) AddText(id int, text string, milestoneChars int) (count int, milestone bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return 0, false, false
	}

	prev := session.CharCount
	session.CharCount += utf8.RuneCountInString(text)
	session.Fragments++
	session.LastActivity = r.now()

	if milestoneChars > 0 {
		milestone = session.CharCount/milestoneChars > prev/milestoneChars
	}

	return session.CharCount, milestone, true
}

// Count returns the number of tracked sessions
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CleanupExpired removes sessions idle for longer than the expiry and returns how many were removed
func (r *SessionRegistry) CleanupExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if now.Sub(session.LastActivity) <= r.expiry {
			continue
		}
		delete(r.sessions, id)
		if r.active == id {
			r.active = 0
		}
		removed++

		r.logger.Info("Cleaned up expired session",
			slog.String("session_key", session.Key),
			slog.Duration("idle", now.Sub(session.LastActivity)),
		)
	}

	return removed
}

// StartCleanup runs CleanupExpired on the given interval until Close
func (r *SessionRegistry) StartCleanup(interval time.Duration) {
	r.mu.Lock()
	r.cleanup = make(chan struct{})
	done := r.cleanup
	r.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Session cleanup routine started",
			slog.Duration("expiry", r.expiry),
			slog.Duration("check_interval", interval),
		)

		for {
			select {
			case <-r.ctx.Done():
				r.logger.Info("Session cleanup routine stopping")
				return
			case <-ticker.C:
				r.CleanupExpired()
			}
		}
	}()
}

// Close stops the cleanup routine
func (r *SessionRegistry) Close() {
	r.cancel()

	r.mu.RLock()
	done := r.cleanup
	r.mu.RUnlock()
	<-done
}
