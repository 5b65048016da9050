package pipeline

import "errors"

// Session level errors
var (
	ErrAlreadyStarting    = errors.New("session start already in progress")
	ErrSessionStopping    = errors.New("session is stopping")
	ErrSessionStartFailed = errors.New("session start failed")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrConnectivityLost   = errors.New("transcription service unreachable")
)

// ErrTranscriptionFailed wraps per-payload failures. They are reported but never fatal.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Segment admission errors
var (
	ErrSegmentTooSmall   = errors.New("segment below minimum size")
	ErrSegmentOutOfOrder = errors.New("segment out of order")
)
