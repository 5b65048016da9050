package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty base URL")
	}

	c, err := NewClient(Config{BaseURL: "http://localhost:5001/", StartRetries: -1})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.config.BaseURL != "http://localhost:5001" {
		t.Errorf("Expected trailing slash trimmed, got %s", c.config.BaseURL)
	}
	if c.config.StartRetries != 0 {
		t.Errorf("Expected negative retries clamped to 0, got %d", c.config.StartRetries)
	}
	if c.config.Timeout != 60*time.Second {
		t.Errorf("Expected default timeout 60s, got %v", c.config.Timeout)
	}
}

func TestSessionIDUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  SessionID
	}{
		{`{"session_id": 7}`, "7"},
		{`{"session_id": "abc"}`, "abc"},
		{`{"session_id": null}`, ""},
	}

	for _, tt := range tests {
		var info SessionInfo
		if err := json.Unmarshal([]byte(tt.input), &info); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.input, err)
			continue
		}
		if info.SessionID != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, info.SessionID, tt.want)
		}
	}
}

func TestStartSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/start_session" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"session_id": 12, "session_key": "012", "status": "new"}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	info, err := c.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if info.SessionID != "12" || info.SessionKey != "012" || info.Status != "new" {
		t.Errorf("Unexpected session info: %+v", info)
	}
}

func TestStartSessionFailureIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": "Failed to start session: disk full"}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	_, err := c.StartSession(context.Background())

	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *TranscriptionError, got %v", err)
	}
	if terr.Status != 500 || !strings.Contains(terr.Message, "disk full") {
		t.Errorf("Unexpected error: %+v", terr)
	}
}

func TestStartSessionRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"session_id": 1, "session_key": "001", "status": "new"}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, StartRetries: 2})
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	stats := c.GetStats()
	if stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
	if stats.FailedRequests != 2 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestStartSessionDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, StartRetries: 3})
	if _, err := c.StartSession(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected a single attempt, got %d", got)
	}
}

func TestTranscribeMultipart(t *testing.T) {
	payload := []byte(strings.Repeat("x", 2048))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}

		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("Missing audio part: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		if len(data) != len(payload) {
			t.Errorf("Expected %d bytes, got %d", len(payload), len(data))
		}
		if header.Filename != "chunk_3.wav" {
			t.Errorf("Expected filename chunk_3.wav, got %s", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Expected part content type audio/wav, got %s", ct)
		}
		if r.FormValue("session_id") != "5" || r.FormValue("sequence") != "3" {
			t.Errorf("Unexpected fields: session_id=%s sequence=%s", r.FormValue("session_id"), r.FormValue("sequence"))
		}
		if len(r.FormValue("request_id")) != 26 {
			t.Errorf("Expected ULID request id, got %q", r.FormValue("request_id"))
		}

		io.WriteString(w, `{"text": "hello", "milestone": false, "char_count": 5, "language": "en"}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	res, err := c.Transcribe(context.Background(), Request{
		SessionID:   "5",
		Sequence:    3,
		Data:        payload,
		ContentType: "audio/wav",
		Extension:   "wav",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "hello" || res.CharCount != 5 || res.Language != "en" {
		t.Errorf("Unexpected result: %+v", res)
	}
	if res.RequestID == "" {
		t.Error("Expected request id on result")
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantType   string
	}{
		{
			name:       "classified service error",
			status:     422,
			body:       `{"error": "Corrupted WebM file.", "error_type": "webm_corruption"}`,
			wantStatus: 422,
			wantType:   "webm_corruption",
		},
		{
			name:       "plain text error",
			status:     502,
			body:       "bad gateway",
			wantStatus: 502,
		},
		{
			name:       "malformed success body",
			status:     200,
			body:       "{not json",
			wantStatus: 200,
			wantType:   "malformed_reply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c, _ := NewClient(Config{BaseURL: srv.URL})
			_, err := c.Transcribe(context.Background(), Request{SessionID: "1", Sequence: 1, Data: []byte("abc")})

			var terr *TranscriptionError
			if !errors.As(err, &terr) {
				t.Fatalf("Expected *TranscriptionError, got %v", err)
			}
			if terr.Status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, terr.Status)
			}
			if terr.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, terr.Type)
			}
		})
	}
}

func TestTranscribeEmptyPayload(t *testing.T) {
	c, _ := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.Transcribe(context.Background(), Request{SessionID: "1"}); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "healthy", "model": "whisper-1", "active_session": 4, "total_sessions": 1, "server_time": "2026-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if status.Status != "healthy" || status.ActiveSession == nil || *status.ActiveSession != "4" {
		t.Errorf("Unexpected health status: %+v", status)
	}
}
