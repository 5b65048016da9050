package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig contains configuration for the Whisper API recognizer
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // optional, for compatible servers
	Model    string
	Language string // optional ISO-639-1 hint; empty means auto-detect
}

// OpenAIRecognizer recognizes speech with the OpenAI transcription API
type OpenAIRecognizer struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// NewOpenAIRecognizer creates a Whisper API recognizer
func NewOpenAIRecognizer(config OpenAIConfig, logger *slog.Logger) (*OpenAIRecognizer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &OpenAIRecognizer{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    config.Model,
		language: config.Language,
		logger:   logger,
	}, nil
}

// Model implements Recognizer
func (r *OpenAIRecognizer) Model() string {
	return r.model
}

// Recognize implements Recognizer
func (r *OpenAIRecognizer) Recognize(ctx context.Context, path string) (*Recognition, error) {
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: r.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	language := resp.Language
	if language == "" {
		language = "unknown"
	}

	r.logger.Debug("Whisper API transcription complete",
		slog.String("language", language),
		slog.Float64("duration", resp.Duration),
		slog.Int("chars", len(resp.Text)),
	)

	return &Recognition{
		Text:     strings.TrimSpace(resp.Text),
		Language: language,
		Duration: resp.Duration,
	}, nil
}

// classifyAPIError maps decode failures reported by the API onto the package errors
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusBadRequest {
		return fmt.Errorf("transcription request failed: %w", err)
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "invalid file format"), strings.Contains(msg, "unsupported"):
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	case strings.Contains(msg, "could not be decoded"), strings.Contains(msg, "corrupt"):
		return fmt.Errorf("%w: %w", ErrAudioLoad, err)
	default:
		return fmt.Errorf("transcription request failed: %w", err)
	}
}
