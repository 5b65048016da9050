package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
)

// Payload is one independently decodable file covering every accepted segment of
// the session so far. Data is never mutated after it is returned.
type Payload struct {
	Data        []byte
	ContentType string
	Extension   string
	Segments    int           // accepted segments included
	LastSegment uint64        // sequence number of the newest included segment
	BodySize    int           // segment bytes, excluding container framing
	Duration    time.Duration // sum of nominal segment durations
	Final       bool          // produced by the stop-time flush
}

// ChunkAccumulator keeps the ordered segment body of the active session
type ChunkAccumulator struct {
	container audio.Container
	minBytes  int

	body     []byte
	segments int
	lastSeq  uint64
	duration time.Duration

	mu sync.Mutex
}

// NewChunkAccumulator creates an accumulator framing payloads with container
func NewChunkAccumulator(container audio.Container, minBytes int) *ChunkAccumulator {
	if minBytes <= 0 {
		minBytes = audio.DefaultMinSegmentBytes
	}
	return &ChunkAccumulator{
		container: container,
		minBytes:  minBytes,
	}
}

// OnSegmentCaptured appends seg and returns the payload for the whole session.
// Segments below the minimum size or not newer than the last accepted one are
// rejected and leave the accumulator unchanged.
func (a *ChunkAccumulator) OnSegmentCaptured(seg audio.Segment) (*Payload, error) {
	if seg.Size() < a.minBytes {
		return nil, fmt.Errorf("%w: %d bytes (minimum %d)", ErrSegmentTooSmall, seg.Size(), a.minBytes)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.segments > 0 && seg.Sequence <= a.lastSeq {
		return nil, fmt.Errorf("%w: sequence %d after %d", ErrSegmentOutOfOrder, seg.Sequence, a.lastSeq)
	}

	next := make([]byte, 0, len(a.body)+seg.Size())
	next = append(next, a.body...)
	next = append(next, seg.Data...)

	data, err := a.container.Frame(next)
	if err != nil {
		return nil, fmt.Errorf("failed to frame payload: %w", err)
	}

	a.body = next
	a.segments++
	a.lastSeq = seg.Sequence
	a.duration += seg.Duration

	return a.payload(data), nil
}

// Current re-frames the accumulated body without adding a segment. It returns
// nil when nothing has been accepted this session.
func (a *ChunkAccumulator) Current() (*Payload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.segments == 0 {
		return nil, nil
	}

	data, err := a.container.Frame(a.body)
	if err != nil {
		return nil, fmt.Errorf("failed to frame payload: %w", err)
	}
	return a.payload(data), nil
}

// Reset clears the segment sequence for a new session
func (a *ChunkAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.body = nil
	a.segments = 0
	a.lastSeq = 0
	a.duration = 0
}

// Len returns the number of accepted segments
func (a *ChunkAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.segments
}

func (a *ChunkAccumulator) payload(data []byte) *Payload {
	return &Payload{
		Data:        data,
		ContentType: a.container.ContentType(),
		Extension:   a.container.Extension(),
		Segments:    a.segments,
		LastSegment: a.lastSeq,
		BodySize:    len(a.body),
		Duration:    a.duration,
	}
}
