package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client provides HTTP client functionality for the transcription service
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	StartRetries int // retries for StartSession only; transcribe calls are never retried
	UserAgent    string
}

// SessionID is the opaque session token issued by the service.
// The service may encode it as a JSON number or string.
type SessionID string

// UnmarshalJSON accepts both numeric and string tokens
func (s *SessionID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SessionID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("session id is neither string nor number: %w", err)
	}
	*s = SessionID(num.String())
	return nil
}

// SessionInfo is the reply of the start-session endpoint
type SessionInfo struct {
	SessionID  SessionID `json:"session_id"`
	SessionKey string    `json:"session_key"`
	Status     string    `json:"status"`
	Age        float64   `json:"age,omitempty"`
}

// Request is one transcription call carrying a whole accumulated payload
type Request struct {
	SessionID   string
	Sequence    uint64
	Data        []byte
	ContentType string
	Extension   string
}

// Result represents the response from the transcribe endpoint
type Result struct {
	Text      string `json:"text"`
	Milestone bool   `json:"milestone"`
	CharCount int    `json:"char_count"`
	Language  string `json:"language,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	Message   string `json:"message,omitempty"`

	RequestID string        `json:"-"`
	Duration  time.Duration `json:"-"`
}

// HealthStatus is the reply of the health endpoint
type HealthStatus struct {
	Status        string     `json:"status"`
	Model         string     `json:"model"`
	ActiveSession *SessionID `json:"active_session"`
	TotalSessions int        `json:"total_sessions"`
	ServerTime    string     `json:"server_time"`
}

// TranscriptionError is a non-success reply from the service
type TranscriptionError struct {
	Status  int
	Message string
	Type    string
}

func (e *TranscriptionError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("HTTP error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.Status, e.Message)
}

// Retryable reports whether the status is worth another attempt
func (e *TranscriptionError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// errorBody is the service's JSON error shape
type errorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.StartRetries < 0 {
		config.StartRetries = 0
	}

	if config.UserAgent == "" {
		config.UserAgent = "Vocuro-Scriber/1.0"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// StartSession requests a new session identifier. Retries with exponential
// backoff up to StartRetries times on network errors and retryable statuses.
func (c *Client) StartSession(ctx context.Context) (*SessionInfo, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.StartRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
			if backoffTime > 10*time.Second {
				backoffTime = 10 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		startTime := time.Now()
		c.incrementTotalRequests()

		var info SessionInfo
		err := c.doJSON(ctx, http.MethodPost, "/start_session", nil, "", &info)
		if err == nil {
			if info.SessionID == "" {
				err = fmt.Errorf("start session reply has no session id")
			} else {
				c.incrementSuccessRequests()
				c.updateAvgResponseTime(time.Since(startTime))
				return &info, nil
			}
		}

		c.incrementFailedRequests()
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return nil, lastErr
}

// Transcribe sends one payload for recognition. It is never retried: the next
// cumulative payload supersedes a failed one.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	requestID := ulid.Make().String()

	body, contentType, err := createMultipartRequest(req, requestID)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	var result Result
	if err := c.doJSON(ctx, http.MethodPost, "/transcribe", body, contentType, &result); err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	elapsed := time.Since(startTime)
	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)

	result.RequestID = requestID
	result.Duration = elapsed
	return &result, nil
}

// Health probes the service
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, "", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// doJSON performs a single request and decodes a JSON reply into out
func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newTranscriptionError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &TranscriptionError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("malformed reply: %v", err),
			Type:    "malformed_reply",
		}
	}

	return nil
}

func newTranscriptionError(status int, body []byte) *TranscriptionError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		return &TranscriptionError{Status: status, Message: eb.Error, Type: eb.ErrorType}
	}
	return &TranscriptionError{Status: status, Message: strings.TrimSpace(string(body))}
}

// createMultipartRequest creates a multipart/form-data request body
func createMultipartRequest(req Request, requestID string) (io.Reader, string, error) {
	if len(req.Data) == 0 {
		return nil, "", fmt.Errorf("payload is empty")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	ext := req.Extension
	if ext == "" {
		ext = "webm"
	}
	ct := req.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	// CreateFormFile hardcodes octet-stream; the service picks the extension from the part type
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="chunk_%d.%s"`, req.Sequence, ext))
	header.Set("Content-Type", ct)

	fileWriter, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(req.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"session_id": req.SessionID,
		"request_id": requestID,
		"sequence":   strconv.FormatUint(req.Sequence, 10),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var terr *TranscriptionError
	if errors.As(err, &terr) {
		return terr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Transport failures (refused, reset, timeout) are retryable
	return true
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
