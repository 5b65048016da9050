// Package audio handles captured audio segments and the containers they are framed in.
// It re-materializes a growing sequence of segments as one self-contained file
// (WAV for raw PCM, stream concatenation for MediaRecorder output) and sniffs
// the container format of uploaded payloads.
package audio
