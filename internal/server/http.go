package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/asr"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/metrics"
)

// multipart parts above this size are spooled to disk by net/http
const maxMemoryUpload = 32 << 20

// Config contains transcription service configuration
type Config struct {
	Address            string
	Port               int
	MinUploadBytes     int64
	MaxUploadBytes     int64
	SessionReuseWindow time.Duration
	SessionExpiry      time.Duration
	CleanupInterval    time.Duration
	MilestoneChars     int
	TranscriptDir      string // empty disables transcript files
	TempDir            string // empty uses os.TempDir
}

// HTTPServer serves the transcription API
type HTTPServer struct {
	config     Config
	server     *http.Server
	router     chi.Router
	recognizer asr.Recognizer
	sessions   *SessionRegistry
	logger     *slog.Logger
	metrics    *metrics.Metrics

	startTime time.Time
}

type requestIDKey struct{}

// NewHTTPServer creates the transcription API server
func NewHTTPServer(config Config, recognizer asr.Recognizer, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	if config.MilestoneChars <= 0 {
		config.MilestoneChars = 5000
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}

	h := &HTTPServer{
		config:     config,
		recognizer: recognizer,
		sessions:   NewSessionRegistry(config.SessionReuseWindow, config.SessionExpiry, logger),
		logger:     logger,
		metrics:    m,
		startTime:  time.Now(),
	}

	h.router = h.routes()
	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Address, config.Port),
		Handler:      h.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute, // recognition of long payloads
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// routes configures the API routes
func (h *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestID)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Post("/start_session", h.withMetrics("/start_session", h.handleStartSession))
	r.Post("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Handle("/metrics", h.metrics.Handler())

	return r
}

// Handler returns the API handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// Sessions returns the session registry
func (h *HTTPServer) Sessions() *SessionRegistry {
	return h.sessions
}

// requestID tags every request with an id, honoring one supplied by the caller
func (h *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server and the session cleanup routine
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting transcription service",
		slog.String("address", h.server.Addr),
		slog.String("model", h.recognizer.Model()),
	)

	if h.config.TranscriptDir != "" {
		if err := os.MkdirAll(h.config.TranscriptDir, 0755); err != nil {
			return fmt.Errorf("failed to create transcript directory: %w", err)
		}
	}

	h.sessions.StartCleanup(h.config.CleanupInterval)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping transcription service...")

	err := h.server.Shutdown(ctx)
	h.sessions.Close()
	return err
}

type startSessionResponse struct {
	SessionID  int     `json:"session_id"`
	SessionKey string  `json:"session_key"`
	Status     string  `json:"status"`
	Age        float64 `json:"age,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Model         string `json:"model"`
	ActiveSession *int   `json:"active_session"`
	TotalSessions int    `json:"total_sessions"`
	ServerTime    string `json:"server_time"`
	Uptime        string `json:"uptime"`
}

type transcribeResponse struct {
	Text      string `json:"text"`
	Milestone bool   `json:"milestone"`
	CharCount int    `json:"char_count"`
	Language  string `json:"language"`
	FileSize  int64  `json:"file_size"`
}

type noSpeechResponse struct {
	Text     string `json:"text"`
	Message  string `json:"message"`
	Language string `json:"language"`
	FileSize int64  `json:"file_size"`
}

type errorResponse struct {
	Error       string `json:"error"`
	ErrorType   string `json:"error_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.sessions.CleanupExpired()

	resp := healthResponse{
		Status:        "healthy",
		Model:         h.recognizer.Model(),
		TotalSessions: h.sessions.Count(),
		ServerTime:    time.Now().UTC().Format(time.RFC3339),
		Uptime:        time.Since(h.startTime).Round(time.Second).String(),
	}
	if id, ok := h.sessions.ActiveID(); ok {
		resp.ActiveSession = &id
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStartSession implements the /start_session endpoint
func (h *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	result := h.sessions.Start()

	resp := startSessionResponse{
		SessionID:  result.ID,
		SessionKey: result.Key,
		Status:     "new",
	}
	if result.Reused {
		resp.Status = "reused"
		resp.Age = result.Age.Seconds()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTranscribe implements the /transcribe endpoint
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(slog.String("request_id", requestIDFrom(r.Context())))

	// leave room for the multipart envelope around the largest accepted file
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error: fmt.Sprintf("Invalid audio file: File too large: more than %d bytes", h.config.MaxUploadBytes),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid multipart request"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	session, ok := h.resolveSession(r.FormValue("session_id"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No active session. Start a session first."})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		// a part without a filename is parsed as a plain value
		if _, isValue := r.MultipartForm.Value["audio"]; isValue {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Empty filename"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No audio file provided"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Empty filename"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	tempPath, fileSize, head, err := h.saveUpload(file, audio.ExtensionForContentType(contentType))
	if err != nil {
		logger.Error("Failed to save upload", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("Server error: %v", err)})
		return
	}
	defer os.Remove(tempPath)

	logger.Info("Saved upload",
		slog.String("session_key", session.Key),
		slog.Int64("file_size", fileSize),
		slog.String("content_type", contentType),
	)

	if msg, valid := h.validateUpload(fileSize, head, logger); !valid {
		logger.Warn("Invalid audio file", slog.String("reason", msg))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:       "Invalid audio file: " + msg,
			FileSize:    fileSize,
			ContentType: contentType,
		})
		return
	}

	start := time.Now()
	recognition, err := h.recognizer.Recognize(r.Context(), tempPath)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		status, errType, message := classifyRecognitionError(err)
		h.metrics.RecordRecognition(errType, elapsed, fileSize)
		logger.Error("Transcription error",
			slog.String("session_key", session.Key),
			slog.String("error_type", errType),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: message, ErrorType: errType, FileSize: fileSize})
		return
	}

	text := strings.TrimSpace(recognition.Text)
	if text == "" {
		h.metrics.RecordRecognition("no_speech", elapsed, fileSize)
		logger.Info("No speech detected", slog.String("session_key", session.Key))
		writeJSON(w, http.StatusOK, noSpeechResponse{
			Message:  "No speech detected",
			Language: recognition.Language,
			FileSize: fileSize,
		})
		return
	}

	count, milestone, ok := h.sessions.AddText(session.ID, text, h.config.MilestoneChars)
	if !ok {
		// expired while recognizing
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No active session. Start a session first."})
		return
	}
	h.metrics.RecordRecognition("success", elapsed, fileSize)
	h.appendTranscript(session.Key, text, logger)

	if milestone {
		logger.Info("Hit characters milestone",
			slog.String("session_key", session.Key),
			slog.Int("char_count", count),
		)
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		Text:      text,
		Milestone: milestone,
		CharCount: count,
		Language:  recognition.Language,
		FileSize:  fileSize,
	})
}

// resolveSession picks the session named by the request, or the active one
func (h *HTTPServer) resolveSession(raw string) (Session, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.sessions.Active()
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return Session{}, false
	}
	return h.sessions.Get(id)
}

// saveUpload spools the uploaded file to a temp file and returns its leading bytes
func (h *HTTPServer) saveUpload(src io.Reader, ext string) (path string, size int64, head []byte, err error) {
	f, err := os.CreateTemp(h.config.TempDir, "upload-*."+ext)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	head = make([]byte, 12)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		os.Remove(f.Name())
		return "", 0, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	if _, err := f.Write(head); err != nil {
		os.Remove(f.Name())
		return "", 0, nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	rest, err := io.Copy(f, src)
	if err != nil {
		os.Remove(f.Name())
		return "", 0, nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	return f.Name(), int64(n) + rest, head, nil
}

// validateUpload checks size bounds and the container signature. Unknown
// containers are logged and accepted.
func (h *HTTPServer) validateUpload(size int64, head []byte, logger *slog.Logger) (string, bool) {
	if size < h.config.MinUploadBytes {
		return fmt.Sprintf("File too small: %d bytes", size), false
	}
	if size > h.config.MaxUploadBytes {
		return fmt.Sprintf("File too large: %d bytes", size), false
	}
	if len(head) < 4 {
		return "Invalid file header", false
	}

	format := audio.Sniff(head)
	if format == audio.FormatUnknown {
		logger.Warn("Unknown file format, proceeding", slog.String("header", hex.EncodeToString(head)))
	} else {
		logger.Debug("Detected container", slog.String("format", string(format)))
	}
	return "", true
}

// appendTranscript adds a line to the session's transcript file
func (h *HTTPServer) appendTranscript(sessionKey, text string, logger *slog.Logger) {
	if h.config.TranscriptDir == "" {
		return
	}

	path := filepath.Join(h.config.TranscriptDir, "SessionID-"+sessionKey+".txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn("Failed to open transcript file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(text + "\n"); err != nil {
		logger.Warn("Failed to write transcript file", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// classifyRecognitionError maps a recognizer failure to a status, error type and message
func classifyRecognitionError(err error) (int, string, string) {
	switch {
	case errors.Is(err, asr.ErrCorruptContainer):
		return corruptContainer()
	case errors.Is(err, asr.ErrUnsupportedFormat):
		return unsupportedFormat()
	case errors.Is(err, asr.ErrAudioLoad):
		return audioLoadFailed()
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "EBML header parsing failed"):
		return corruptContainer()
	case strings.Contains(lower, "ffmpeg"):
		return unsupportedFormat()
	case strings.Contains(lower, "load audio"):
		return audioLoadFailed()
	default:
		return http.StatusInternalServerError, "transcription_failed", "Transcription failed: " + msg
	}
}

func corruptContainer() (int, string, string) {
	return http.StatusUnprocessableEntity, "webm_corruption", "Corrupted WebM file. Try refreshing and recording again."
}

func unsupportedFormat() (int, string, string) {
	return http.StatusUnprocessableEntity, "format_unsupported", "Audio format not supported. Try using a different browser."
}

func audioLoadFailed() (int, string, string) {
	return http.StatusUnprocessableEntity, "audio_load_failed", "Failed to load audio file. Recording may be incomplete."
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Vocuro transcription service",
		"endpoints": map[string]string{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"POST /start_session": "Start or reuse a transcription session",
			"POST /transcribe":    "Transcribe an audio payload (multipart field 'audio')",
			"GET /metrics":        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
