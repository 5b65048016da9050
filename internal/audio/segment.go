package audio

import (
	"time"
)

// DefaultMinSegmentBytes is the size below which a captured segment is treated as
// silence or an empty recorder flush and discarded.
const DefaultMinSegmentBytes = 1000

// Segment represents one raw unit of captured audio delivered by a capture source
type Segment struct {
	Sequence   uint64        // Monotonically increasing per session, starting at 1
	Data       []byte        // Raw bytes as produced by the source (PCM16 or encoded stream)
	CapturedAt time.Time     // When the source emitted the segment
	Duration   time.Duration // Nominal audio duration covered by the segment
	Final      bool          // Set on the tail segment flushed when capture stops
}

// Size returns the segment size in bytes
func (s Segment) Size() int {
	return len(s.Data)
}
