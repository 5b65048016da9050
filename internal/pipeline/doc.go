// Package pipeline implements the client-side streaming transcription pipeline.
//
// A Manager owns the session lifecycle and supervises a capture source. Each
// captured segment flows through a ChunkAccumulator, which re-materializes the
// whole session as one self-contained payload, into a DispatchQueue that keeps
// at most one transcription request in flight and coalesces backlog to the
// freshest payload. Replies are merged by a TranscriptAssembler in completion
// order, which equals submission order because requests never overlap.
package pipeline
