// Package server implements the transcription service HTTP API. It issues
// sessions, validates uploaded audio payloads, runs them through a recognizer
// and tracks per-session character counts and milestones.
package server
