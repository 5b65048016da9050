package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FallbackRecognizer retries a failed recognition once after converting the file
// to 16 kHz mono WAV with ffmpeg
type FallbackRecognizer struct {
	primary    Recognizer
	ffmpegPath string
	logger     *slog.Logger
}

// NewFallbackRecognizer wraps primary with an ffmpeg conversion retry
func NewFallbackRecognizer(primary Recognizer, ffmpegPath string, logger *slog.Logger) *FallbackRecognizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FallbackRecognizer{
		primary:    primary,
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
}

// Model implements Recognizer
func (r *FallbackRecognizer) Model() string {
	return r.primary.Model()
}

// Recognize implements Recognizer
func (r *FallbackRecognizer) Recognize(ctx context.Context, path string) (*Recognition, error) {
	result, primaryErr := r.primary.Recognize(ctx, path)
	if primaryErr == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}

	r.logger.Warn("Primary transcription failed, converting to WAV",
		slog.String("path", path),
		slog.String("error", primaryErr.Error()),
	)

	wavPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_converted.wav"
	defer os.Remove(wavPath)

	if err := r.convert(ctx, path, wavPath); err != nil {
		r.logger.Warn("WAV conversion fallback failed", slog.String("error", err.Error()))
		return nil, err
	}

	result, err := r.primary.Recognize(ctx, wavPath)
	if err != nil {
		return nil, fmt.Errorf("transcription failed after WAV conversion: %w", err)
	}

	r.logger.Info("Transcribed after WAV conversion", slog.String("path", path))
	return result, nil
}

// convert runs ffmpeg and classifies its failure output
func (r *FallbackRecognizer) convert(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-i", in,
		"-ar", "16000", // 16kHz sample rate
		"-ac", "1", // mono
		"-y",
		out,
	)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	detail := lastLine(string(output))
	switch {
	case strings.Contains(string(output), "EBML header parsing failed"):
		return fmt.Errorf("%w: ffmpeg: %s", ErrCorruptContainer, detail)
	case strings.Contains(string(output), "Invalid data found when processing input"):
		return fmt.Errorf("%w: ffmpeg: %s", ErrUnsupportedFormat, detail)
	case detail == "":
		return fmt.Errorf("%w: ffmpeg: %w", ErrAudioLoad, err)
	default:
		return fmt.Errorf("%w: ffmpeg: %s", ErrAudioLoad, detail)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
