package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
)

// FileSource replays a WAV file as mono PCM16 segments, one per segment interval
type FileSource struct {
	path        string
	constraints Constraints
	realtime    bool
	logger      *slog.Logger

	pcm        []byte // mono PCM16 little endian
	sampleRate int

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
	lastEmit time.Time
}

// NewFileSource creates a source for the WAV file at path. When realtime is set,
// segments are paced at the segment interval; otherwise they are emitted back to back.
func NewFileSource(path string, constraints Constraints, realtime bool, logger *slog.Logger) *FileSource {
	done := make(chan struct{})
	close(done)

	return &FileSource{
		path:        path,
		constraints: constraints,
		realtime:    realtime,
		logger:      logger,
		done:        done,
	}
}

// Open decodes the file. It is called by Start when needed; calling it earlier
// lets callers learn the sample rate before building a container.
func (s *FileSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open()
}

func (s *FileSource) open() error {
	if s.pcm != nil {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return fmt.Errorf("%w: %s is not a valid WAV file", ErrDeviceUnavailable, s.path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("%w: failed to decode %s: %w", ErrDeviceUnavailable, s.path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return fmt.Errorf("%w: %s has no audio format", ErrDeviceUnavailable, s.path)
	}

	s.pcm = downmixPCM16(buf.Data, buf.Format.NumChannels, int(decoder.BitDepth))
	s.sampleRate = buf.Format.SampleRate

	s.logger.Info("Opened capture file",
		slog.String("path", s.path),
		slog.Int("sample_rate", s.sampleRate),
		slog.Int("channels", buf.Format.NumChannels),
		slog.Int("bit_depth", int(decoder.BitDepth)),
		slog.Float64("duration_seconds", audio.PCM16Duration(len(s.pcm), s.sampleRate, 1)),
	)

	return nil
}

// SampleRate returns the decoded sample rate, or zero before Open
func (s *FileSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// Start implements Source
func (s *FileSource) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("file source already running")
	}
	if err := s.open(); err != nil {
		return err
	}

	segmentBytes := int(float64(s.sampleRate)*s.constraints.SegmentInterval.Seconds()) * 2
	if segmentBytes <= 0 {
		return fmt.Errorf("segment interval %v is too short", s.constraints.SegmentInterval)
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.lastEmit = time.Now()

	go s.run(ctx, sink, segmentBytes, s.stopCh, s.done)

	return nil
}

func (s *FileSource) run(ctx context.Context, sink Sink, segmentBytes int, stopCh, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	var seq uint64
	pos := 0
	emit := func(n int, final bool) {
		if n <= 0 {
			return
		}
		seq++
		data := make([]byte, n)
		copy(data, s.pcm[pos:pos+n])
		pos += n

		now := time.Now()
		s.mu.Lock()
		s.lastEmit = now
		s.mu.Unlock()

		sink.OnSegment(audio.Segment{
			Sequence:   seq,
			Data:       data,
			CapturedAt: now,
			Duration:   pcmDuration(n, s.sampleRate),
			Final:      final,
		})
	}

	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(s.constraints.SegmentInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for pos < len(s.pcm) {
		remaining := len(s.pcm) - pos

		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				// flush the audio "recorded" since the last segment
				elapsed := time.Since(s.lastEmitTime())
				n := int(float64(s.sampleRate)*elapsed.Seconds()) * 2
				emit(min(n, segmentBytes, remaining), true)
				return
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}
		}

		if remaining <= segmentBytes {
			emit(remaining, true)
			break
		}
		emit(segmentBytes, false)
	}

	s.logger.Info("Capture file exhausted", slog.String("path", s.path), slog.Uint64("segments", seq))
}

func (s *FileSource) lastEmitTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEmit
}

// Stop implements Source
func (s *FileSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, done := s.stopCh, s.done
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done implements Source
func (s *FileSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// downmixPCM16 averages interleaved channels and rescales samples to 16 bits
func downmixPCM16(samples []int, channels, bitDepth int) []byte {
	frames := len(samples) / channels
	out := make([]byte, frames*2)

	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		v := scaleTo16(sum/channels, bitDepth)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}

	return out
}

func scaleTo16(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	default:
		return v
	}
}

func pcmDuration(n, sampleRate int) time.Duration {
	return time.Duration(audio.PCM16Duration(n, sampleRate, 1) * float64(time.Second))
}
