package audio

import (
	"bytes"
	"testing"
)

func TestNewContainer(t *testing.T) {
	tests := []struct {
		name        string
		container   string
		contentType string
		extension   string
		expectError bool
	}{
		{"wav", ContainerWAV, "audio/wav", "wav", false},
		{"webm", ContainerWebM, "audio/webm", "webm", false},
		{"stream alias", ContainerStream, "audio/webm", "webm", false},
		{"ogg", ContainerOgg, "audio/ogg", "ogg", false},
		{"unknown", "flac", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewContainer(tt.container, 16000, 1)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewContainer failed: %v", err)
			}
			if c.ContentType() != tt.contentType {
				t.Errorf("Expected content type %q, got %q", tt.contentType, c.ContentType())
			}
			if c.Extension() != tt.extension {
				t.Errorf("Expected extension %q, got %q", tt.extension, c.Extension())
			}
		})
	}
}

func TestWAVContainerReframesGrowingBody(t *testing.T) {
	c := WAVContainer{SampleRate: 16000, Channels: 1}
	first := sinePCM(16000, 0.1)
	second := append(append([]byte{}, first...), sinePCM(16000, 0.05)...)

	p1, err := c.Frame(first)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	p2, err := c.Frame(second)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	prefix := FramePrefix(c)
	if !bytes.HasPrefix(p2[prefix:], p1[prefix:]) {
		t.Error("Second payload body should start with the first payload body")
	}

	info, err := GetWAVInfo(p2)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if int(info.DataSize) != len(second) {
		t.Errorf("Expected data size %d, got %d", len(second), info.DataSize)
	}
}

func TestStreamContainerDoesNotAlias(t *testing.T) {
	c := StreamContainer{MIMEType: "audio/webm", Ext: "webm"}
	body := []byte{0x1a, 0x45, 0xdf, 0xa3, 1, 2, 3}

	out, err := c.Frame(body)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	body[4] = 99
	if out[4] != 1 {
		t.Error("Framed payload must not alias the accumulator body")
	}

	if _, err := c.Frame(nil); err == nil {
		t.Error("Expected error for empty body")
	}
}
