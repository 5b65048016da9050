// Package transcription implements the HTTP client for the transcription service.
// It starts sessions, uploads whole accumulated payloads as multipart form data,
// probes service health, and reports non-success replies as *TranscriptionError.
package transcription
