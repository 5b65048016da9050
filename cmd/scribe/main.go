package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/config"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/transcription"
)

const (
	serviceName    = "scribe"
	serviceVersion = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Streaming speech transcription",
	Long: `Scribe captures audio in fixed-length segments, sends the accumulated recording
to a transcription service and assembles a running transcript.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription service",
	RunE:  runServe,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session and transcribe it while it is captured",
	Long: `Record runs one transcription session. Audio comes from a WAV file (--file) or
from a browser capture page served on the capture listen address.`,
	RunE: runRecord,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured transcription service",
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	recordCmd.Flags().String("file", "", "Replay a WAV file instead of capturing from a browser")
	recordCmd.Flags().Duration("duration", 0, "Stop the session after this long (0 waits for a signal)")
	recordCmd.Flags().Bool("fast", false, "Replay the file without real-time pacing")

	rootCmd.AddCommand(serveCmd, recordCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configuration named by --config and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// newTranscriptionClient builds the service client from configuration
func newTranscriptionClient(cfg *config.Config) (*transcription.Client, error) {
	return transcription.NewClient(transcription.Config{
		BaseURL:      cfg.Service.BaseURL,
		Timeout:      cfg.Service.GetTimeoutDuration(),
		StartRetries: cfg.Service.StartRetries,
		UserAgent:    fmt.Sprintf("%s/%s", serviceName, serviceVersion),
	})
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "pretty":
		charmLevel, err := charmlog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			charmLevel = charmlog.InfoLevel
		}
		handler = charmlog.NewWithOptions(output, charmlog.Options{
			Level:           charmLevel,
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			ReportCaller:    level == slog.LevelDebug,
			Prefix:          serviceName,
		})
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
