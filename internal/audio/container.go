package audio

import (
	"fmt"
)

// Container names accepted in configuration
const (
	ContainerWAV    = "wav"
	ContainerWebM   = "webm"
	ContainerOgg    = "ogg"
	ContainerStream = "stream"
)

// Container frames the concatenated bytes of every segment of a session into one
// independently decodable file
type Container interface {
	// Frame returns a new file for body. The result never aliases body.
	Frame(body []byte) ([]byte, error)
	ContentType() string
	Extension() string
}

// WAVContainer frames raw PCM-16 segments with a WAV header recomputed over the whole body
type WAVContainer struct {
	SampleRate int
	Channels   int
}

// Frame implements Container
func (c WAVContainer) Frame(body []byte) ([]byte, error) {
	return FramePCM16(body, c.SampleRate, c.Channels)
}

// ContentType implements Container
func (c WAVContainer) ContentType() string { return "audio/wav" }

// Extension implements Container
func (c WAVContainer) Extension() string { return "wav" }

// StreamContainer frames recorder streams (WebM, Ogg) whose first segment carries the
// initialization header, so the concatenation of all segments is itself a valid file
type StreamContainer struct {
	MIMEType string
	Ext      string
}

// Frame implements Container
func (c StreamContainer) Frame(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("cannot frame empty audio data")
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// ContentType implements Container
func (c StreamContainer) ContentType() string { return c.MIMEType }

// Extension implements Container
func (c StreamContainer) Extension() string { return c.Ext }

// NewContainer returns the container registered under name
func NewContainer(name string, sampleRate, channels int) (Container, error) {
	switch name {
	case ContainerWAV:
		if sampleRate <= 0 || channels <= 0 {
			return nil, fmt.Errorf("wav container requires a positive sample rate and channel count")
		}
		return WAVContainer{SampleRate: sampleRate, Channels: channels}, nil
	case ContainerWebM, ContainerStream:
		return StreamContainer{MIMEType: "audio/webm", Ext: "webm"}, nil
	case ContainerOgg:
		return StreamContainer{MIMEType: "audio/ogg", Ext: "ogg"}, nil
	default:
		return nil, fmt.Errorf("unknown container %q", name)
	}
}

// FramePrefix returns the number of leading bytes a container adds in front of the
// segment body, so callers can compare successive payloads modulo reframing
func FramePrefix(c Container) int {
	if _, ok := c.(WAVContainer); ok {
		return WAVHeaderSize
	}
	return 0
}
