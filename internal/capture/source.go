package capture

import (
	"context"
	"errors"
	"time"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
)

// Capture failures. Both are fatal to the running session.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Sink receives segments and failures from a source. Calls are sequential.
type Sink interface {
	OnSegment(seg audio.Segment)
	OnError(err error)
}

// Source supplies periodic raw audio segments
type Source interface {
	// Start begins capture and returns once segments will be delivered to sink.
	// Cancelling ctx afterwards aborts capture without a final segment.
	Start(ctx context.Context, sink Sink) error
	// Stop ends capture. The trailing partial segment, if any, is delivered
	// before Stop returns.
	Stop(ctx context.Context) error
	// Done is closed once the source has stopped delivering.
	Done() <-chan struct{}
}

// Constraints is the capture configuration requested by the pipeline
type Constraints struct {
	SampleRate       int           `json:"sample_rate"`
	Channels         int           `json:"channel_count"`
	EchoCancellation bool          `json:"echo_cancellation"`
	NoiseSuppression bool          `json:"noise_suppression"`
	SegmentInterval  time.Duration `json:"-"`
}

// DefaultConstraints returns mono capture with echo cancellation and noise
// suppression, one segment every five seconds
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		SegmentInterval:  5 * time.Second,
	}
}
