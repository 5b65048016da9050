package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeAudioFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt fake audio payload"), 0644); err != nil {
		t.Fatalf("Failed to write audio file: %v", err)
	}
	return path
}

func TestNewOpenAIRecognizerRequiresKey(t *testing.T) {
	if _, err := NewOpenAIRecognizer(OpenAIConfig{}, testLogger()); err == nil {
		t.Error("Expected error for empty API key")
	}

	r, err := NewOpenAIRecognizer(OpenAIConfig{APIKey: "key"}, testLogger())
	if err != nil {
		t.Fatalf("NewOpenAIRecognizer failed: %v", err)
	}
	if r.Model() != "whisper-1" {
		t.Errorf("Expected default model whisper-1, got %q", r.Model())
	}
}

func TestOpenAIRecognizerRecognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			return
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("Expected model whisper-1, got %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("Expected verbose_json response format, got %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("Expected language hint en, got %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("Expected file part: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"task":"transcribe","language":"english","duration":2.5,"text":"  hello there "}`)
	}))
	defer server.Close()

	r, err := NewOpenAIRecognizer(OpenAIConfig{
		APIKey:   "test-key",
		BaseURL:  server.URL + "/v1/",
		Language: "en",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewOpenAIRecognizer failed: %v", err)
	}

	result, err := r.Recognize(context.Background(), writeAudioFile(t, "chunk_1.wav"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Text != "hello there" {
		t.Errorf("Expected trimmed text, got %q", result.Text)
	}
	if result.Language != "english" || result.Duration != 2.5 {
		t.Errorf("Unexpected recognition metadata: %+v", result)
	}
}

func TestOpenAIRecognizerErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    error
	}{
		{"invalid format", http.StatusBadRequest, "Invalid file format. Supported formats: ['flac', 'm4a']", ErrUnsupportedFormat},
		{"undecodable audio", http.StatusBadRequest, "Audio file could not be decoded or its format is not supported.", ErrAudioLoad},
		{"server error", http.StatusInternalServerError, "internal error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"message":%q,"type":"invalid_request_error"}}`, tt.message)
			}))
			defer server.Close()

			r, err := NewOpenAIRecognizer(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1"}, testLogger())
			if err != nil {
				t.Fatalf("NewOpenAIRecognizer failed: %v", err)
			}

			_, err = r.Recognize(context.Background(), writeAudioFile(t, "chunk.webm"))
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if tt.want == nil {
				for _, sentinel := range []error{ErrUnsupportedFormat, ErrAudioLoad, ErrCorruptContainer} {
					if errors.Is(err, sentinel) {
						t.Errorf("Server error should not be classified as %v", sentinel)
					}
				}
			}
		})
	}
}
