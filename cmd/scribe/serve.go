package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/asr"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/config"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/metrics"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)

	recognizer, err := newRecognizer(cfg.ASR, logger)
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.String("model", recognizer.Model()),
		slog.Bool("ffmpeg_fallback", cfg.ASR.Fallback),
		slog.Int64("min_upload_bytes", cfg.Server.MinUploadBytes),
		slog.Int64("max_upload_bytes", cfg.Server.MaxUploadBytes),
		slog.Duration("session_reuse_window", cfg.Server.GetSessionReuseWindow()),
		slog.Duration("session_expiry", cfg.Server.GetSessionExpiry()),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	httpServer := server.NewHTTPServer(server.Config{
		Address:            cfg.Server.Address,
		Port:               cfg.Server.Port,
		MinUploadBytes:     cfg.Server.MinUploadBytes,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes,
		SessionReuseWindow: cfg.Server.GetSessionReuseWindow(),
		SessionExpiry:      cfg.Server.GetSessionExpiry(),
		MilestoneChars:     cfg.Server.MilestoneChars,
		TranscriptDir:      cfg.Server.TranscriptDir,
	}, recognizer, logger, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped", slog.Int("sessions", httpServer.Sessions().Count()))
	return nil
}

// newRecognizer builds the configured recognizer, wrapped with the ffmpeg fallback when enabled
func newRecognizer(cfg config.ASRConfig, logger *slog.Logger) (asr.Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("asr api_key is required (or set %s)", config.EnvOpenAIAPIKey)
	}

	whisper, err := asr.NewOpenAIRecognizer(asr.OpenAIConfig{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Language: cfg.Language,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.Fallback {
		return whisper, nil
	}
	return asr.NewFallbackRecognizer(whisper, cfg.FFmpegPath, logger), nil
}
