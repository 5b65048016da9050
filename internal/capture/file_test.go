package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// collectingSink records everything a source delivers
type collectingSink struct {
	mu       sync.Mutex
	segments []audio.Segment
	errs     []error
}

func (c *collectingSink) OnSegment(seg audio.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = append(c.segments, seg)
}

func (c *collectingSink) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collectingSink) snapshot() ([]audio.Segment, []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Segment{}, c.segments...), append([]error{}, c.errs...)
}

// writeStereoWAV writes a 16-bit stereo file with constant left and right samples
func writeStereoWAV(t *testing.T, sampleRate int, seconds float64, left, right int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create WAV file: %v", err)
	}
	defer f.Close()

	frames := int(float64(sampleRate) * seconds)
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[i*2] = left
		data[i*2+1] = right
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close encoder: %v", err)
	}
	return path
}

func waitDone(t *testing.T, src Source) {
	t.Helper()
	select {
	case <-src.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for source to finish")
	}
}

func TestFileSourceSegmentsWholeFile(t *testing.T) {
	path := writeStereoWAV(t, 16000, 2.5, 1000, 3000)

	constraints := DefaultConstraints()
	constraints.SegmentInterval = time.Second

	src := NewFileSource(path, constraints, false, testLogger())
	if err := src.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if src.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", src.SampleRate())
	}

	sink := &collectingSink{}
	if err := src.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, src)

	segments, errs := sink.snapshot()
	if len(errs) != 0 {
		t.Errorf("Unexpected errors: %v", errs)
	}

	wantSizes := []int{32000, 32000, 16000}
	if len(segments) != len(wantSizes) {
		t.Fatalf("Expected %d segments, got %d", len(wantSizes), len(segments))
	}
	for i, seg := range segments {
		if seg.Sequence != uint64(i+1) {
			t.Errorf("Segment %d: expected sequence %d, got %d", i, i+1, seg.Sequence)
		}
		if seg.Size() != wantSizes[i] {
			t.Errorf("Segment %d: expected %d bytes, got %d", i, wantSizes[i], seg.Size())
		}
		if seg.Final != (i == len(segments)-1) {
			t.Errorf("Segment %d: unexpected final flag %v", i, seg.Final)
		}
	}

	// stereo is averaged down to mono
	if got := int16(binary.LittleEndian.Uint16(segments[0].Data[0:2])); got != 2000 {
		t.Errorf("Expected downmixed sample 2000, got %d", got)
	}
	if segments[2].Duration != 500*time.Millisecond {
		t.Errorf("Expected 500ms tail, got %v", segments[2].Duration)
	}

	// Stop after the file is exhausted is a no-op
	if err := src.Stop(context.Background()); err != nil {
		t.Errorf("Stop after completion failed: %v", err)
	}
}

func TestFileSourceRealtimeStopFlushesTail(t *testing.T) {
	path := writeStereoWAV(t, 8000, 10, 100, 100)

	constraints := DefaultConstraints()
	constraints.SegmentInterval = 100 * time.Millisecond

	src := NewFileSource(path, constraints, true, testLogger())
	sink := &collectingSink{}
	if err := src.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(250 * time.Millisecond)
	if err := src.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	segments, _ := sink.snapshot()
	if len(segments) < 2 {
		t.Fatalf("Expected at least one full segment and a tail, got %d", len(segments))
	}
	tail := segments[len(segments)-1]
	if !tail.Final {
		t.Error("Expected last segment to be marked final")
	}
	if tail.Size() == 0 || tail.Size() > 1600 {
		t.Errorf("Expected a partial tail of at most one interval, got %d bytes", tail.Size())
	}
	for _, seg := range segments[:len(segments)-1] {
		if seg.Size() != 1600 || seg.Final {
			t.Errorf("Unexpected regular segment: %d bytes final=%v", seg.Size(), seg.Final)
		}
	}
}

func TestFileSourceCancelAbortsWithoutTail(t *testing.T) {
	path := writeStereoWAV(t, 8000, 10, 100, 100)

	constraints := DefaultConstraints()
	constraints.SegmentInterval = 50 * time.Millisecond

	src := NewFileSource(path, constraints, true, testLogger())
	sink := &collectingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx, sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cancel()
	waitDone(t, src)

	segments, _ := sink.snapshot()
	for _, seg := range segments {
		if seg.Final {
			t.Error("Aborted capture must not flush a final segment")
		}
	}
}

func TestFileSourceInvalidFile(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T) string
	}{
		{
			name:    "missing file",
			prepare: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.wav") },
		},
		{
			name: "not a wav file",
			prepare: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "noise.wav")
				os.WriteFile(path, []byte("definitely not RIFF data"), 0644)
				return path
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewFileSource(tt.prepare(t), DefaultConstraints(), false, testLogger())
			err := src.Start(context.Background(), &collectingSink{})
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
			}
		})
	}
}

func TestDownmixPCM16(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int
		channels int
		bitDepth int
		want     []int16
	}{
		{"mono passthrough", []int{1, -2, 3}, 1, 16, []int16{1, -2, 3}},
		{"stereo average", []int{100, 300, -100, -300}, 2, 16, []int16{200, -200}},
		{"24-bit rescale", []int{256 * 1000}, 1, 24, []int16{1000}},
		{"8-bit unsigned", []int{128, 255}, 1, 8, []int16{0, 127 << 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := downmixPCM16(tt.samples, tt.channels, tt.bitDepth)
			if len(out) != len(tt.want)*2 {
				t.Fatalf("Expected %d bytes, got %d", len(tt.want)*2, len(out))
			}
			for i, want := range tt.want {
				if got := int16(binary.LittleEndian.Uint16(out[i*2:])); got != want {
					t.Errorf("Sample %d: expected %d, got %d", i, want, got)
				}
			}
		})
	}
}
