package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/transcription"
)

// HealthChecker probes the transcription service
type HealthChecker interface {
	Health(ctx context.Context) (*transcription.HealthStatus, error)
}

// HealthGate tracks service reachability and blocks session starts while it is lost
type HealthGate struct {
	checker  HealthChecker
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	checked   bool
	healthy   bool
	lastErr   error
	lastCheck time.Time
}

// NewHealthGate creates a gate that has not probed yet
func NewHealthGate(checker HealthChecker, interval time.Duration, logger *slog.Logger) *HealthGate {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthGate{
		checker:  checker,
		interval: interval,
		logger:   logger,
	}
}

// Check probes the service once and records the outcome
func (g *HealthGate) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.interval)
	defer cancel()

	_, err := g.checker.Health(ctx)

	g.mu.Lock()
	wasHealthy := g.healthy || !g.checked
	g.checked = true
	g.healthy = err == nil
	g.lastErr = err
	g.lastCheck = time.Now()
	g.mu.Unlock()

	switch {
	case err != nil && wasHealthy:
		g.logger.Warn("Transcription service unreachable", slog.String("error", err.Error()))
	case err == nil && !wasHealthy:
		g.logger.Info("Transcription service reachable again")
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivityLost, err)
	}
	return nil
}

// Allow returns ErrConnectivityLost while the last probe failed. Without a previous
// probe it checks synchronously.
func (g *HealthGate) Allow(ctx context.Context) error {
	g.mu.RLock()
	checked, healthy, lastErr := g.checked, g.healthy, g.lastErr
	g.mu.RUnlock()

	if !checked {
		return g.Check(ctx)
	}
	if !healthy {
		return fmt.Errorf("%w: %w", ErrConnectivityLost, lastErr)
	}
	return nil
}

// Healthy reports the last recorded outcome
func (g *HealthGate) Healthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checked && g.healthy
}

// Run probes on every interval until ctx is cancelled
func (g *HealthGate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	_ = g.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = g.Check(ctx)
		}
	}
}
