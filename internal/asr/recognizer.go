package asr

import (
	"context"
	"errors"
)

// Recognition failures the service reports as client errors
var (
	ErrCorruptContainer  = errors.New("corrupted audio container")
	ErrUnsupportedFormat = errors.New("audio format not supported")
	ErrAudioLoad         = errors.New("failed to load audio")
)

// Recognition is the text recognized in one audio file
type Recognition struct {
	Text     string
	Language string
	Duration float64 // seconds of audio, when the backend reports it
}

// Recognizer turns an audio file into text
type Recognizer interface {
	Recognize(ctx context.Context, path string) (*Recognition, error)
	Model() string
}
