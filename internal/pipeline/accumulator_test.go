package pipeline

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
)

func segment(seq uint64, size int, fill byte) audio.Segment {
	return audio.Segment{
		Sequence:   seq,
		Data:       bytes.Repeat([]byte{fill}, size),
		CapturedAt: time.Now(),
		Duration:   time.Second,
	}
}

func TestAccumulatorSizeThreshold(t *testing.T) {
	acc := NewChunkAccumulator(audio.StreamContainer{MIMEType: "audio/webm", Ext: "webm"}, 1000)

	tests := []struct {
		name    string
		seg     audio.Segment
		wantErr error
	}{
		{"500 bytes is discarded", segment(1, 500, 'a'), ErrSegmentTooSmall},
		{"999 bytes is discarded", segment(2, 999, 'b'), ErrSegmentTooSmall},
		{"1000 bytes is accepted", segment(3, 1000, 'c'), nil},
		{"1500 bytes is accepted", segment(4, 1500, 'd'), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := acc.OnSegmentCaptured(tt.seg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				if payload != nil {
					t.Error("Expected no payload for discarded segment")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !bytes.HasSuffix(payload.Data, tt.seg.Data) {
				t.Error("Expected payload to end with the new segment")
			}
		})
	}

	payload, err := acc.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if bytes.ContainsRune(payload.Data, 'a') || bytes.ContainsRune(payload.Data, 'b') {
		t.Error("Discarded segments leaked into the payload")
	}
	if len(payload.Data) != 2500 {
		t.Errorf("Expected 2500 bytes, got %d", len(payload.Data))
	}
	if payload.Segments != 2 || payload.LastSegment != 4 {
		t.Errorf("Unexpected payload bookkeeping: segments=%d last=%d", payload.Segments, payload.LastSegment)
	}
}

func TestAccumulatorPayloadPrefix(t *testing.T) {
	containers := []audio.Container{
		audio.WAVContainer{SampleRate: 16000, Channels: 1},
		audio.StreamContainer{MIMEType: "audio/webm", Ext: "webm"},
	}

	for _, container := range containers {
		t.Run(container.Extension(), func(t *testing.T) {
			acc := NewChunkAccumulator(container, 1000)
			prefix := audio.FramePrefix(container)

			var previous []byte
			for i := uint64(1); i <= 5; i++ {
				seg := segment(i, 1200+int(i)*2, byte('a'+i))
				payload, err := acc.OnSegmentCaptured(seg)
				if err != nil {
					t.Fatalf("Segment %d rejected: %v", i, err)
				}

				body := payload.Data[prefix:]
				if previous != nil {
					want := append(append([]byte{}, previous...), seg.Data...)
					if !bytes.Equal(body, want) {
						t.Fatalf("Payload %d is not payload %d plus the new segment", i, i-1)
					}
				}
				previous = body

				if payload.ContentType != container.ContentType() {
					t.Errorf("Expected content type %s, got %s", container.ContentType(), payload.ContentType)
				}
			}
		})
	}
}

func TestAccumulatorPayloadIsNotMutatedAfterHandoff(t *testing.T) {
	acc := NewChunkAccumulator(audio.StreamContainer{MIMEType: "audio/webm", Ext: "webm"}, 1000)

	first, err := acc.OnSegmentCaptured(segment(1, 1200, 'x'))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	snapshot := append([]byte{}, first.Data...)

	if _, err := acc.OnSegmentCaptured(segment(2, 1200, 'y')); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !bytes.Equal(first.Data, snapshot) {
		t.Error("Earlier payload changed after a later segment arrived")
	}
}

func TestAccumulatorRejectsOutOfOrder(t *testing.T) {
	acc := NewChunkAccumulator(audio.StreamContainer{MIMEType: "audio/webm", Ext: "webm"}, 1000)

	if _, err := acc.OnSegmentCaptured(segment(5, 1200, 'a')); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, seq := range []uint64{5, 3} {
		if _, err := acc.OnSegmentCaptured(segment(seq, 1200, 'b')); !errors.Is(err, ErrSegmentOutOfOrder) {
			t.Errorf("Sequence %d: expected ErrSegmentOutOfOrder, got %v", seq, err)
		}
	}
	if acc.Len() != 1 {
		t.Errorf("Expected 1 accepted segment, got %d", acc.Len())
	}
}

func TestAccumulatorFramingErrorLeavesStateUnchanged(t *testing.T) {
	acc := NewChunkAccumulator(audio.WAVContainer{SampleRate: 16000, Channels: 1}, 1000)

	if _, err := acc.OnSegmentCaptured(segment(1, 1200, 'a')); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// odd length is not whole PCM16 frames
	if _, err := acc.OnSegmentCaptured(segment(2, 1201, 'b')); err == nil {
		t.Fatal("Expected framing error")
	}

	payload, err := acc.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if payload.BodySize != 1200 {
		t.Errorf("Expected body to stay at 1200 bytes, got %d", payload.BodySize)
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewChunkAccumulator(audio.StreamContainer{MIMEType: "audio/webm", Ext: "webm"}, 1000)

	if _, err := acc.OnSegmentCaptured(segment(7, 1200, 'a')); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	acc.Reset()

	payload, err := acc.Current()
	if err != nil || payload != nil {
		t.Errorf("Expected no payload after reset, got %v, %v", payload, err)
	}

	// sequence numbering restarts with a new session
	if _, err := acc.OnSegmentCaptured(segment(1, 1200, 'b')); err != nil {
		t.Errorf("Expected first segment of new session to be accepted: %v", err)
	}
}
