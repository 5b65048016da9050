// Package metrics defines the Prometheus metrics of the capture pipeline and the transcription service.
package metrics
