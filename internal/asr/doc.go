// Package asr wraps the speech recognition backends used by the transcription service.
package asr
