// Package capture provides the audio capture sources feeding the pipeline.
//
// FileSource replays a WAV file as PCM16 segments. WebSocketSource drives a
// browser capture page over a WebSocket: the page receives a "start" message
// carrying the constraints and timeslice, answers "started" or "error" (with the
// getUserMedia error name), streams each MediaRecorder chunk as a binary message,
// and on "stop" flushes its last chunk before answering "stopped". Transcript
// updates are pushed back to the page as "transcript" messages.
package capture
