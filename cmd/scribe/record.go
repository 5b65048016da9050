package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/audio"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/capture"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/config"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/metrics"
	"github.com/PrajwalaMugajjiShambulingappa/Vocuro-AI-Scriber/internal/pipeline"
)

// browser MediaRecorder output
const pageMIMEType = "audio/webm;codecs=opus"

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		cfg.Capture.Source = "file"
		cfg.Capture.File = file
	}
	if fast, _ := cmd.Flags().GetBool("fast"); fast {
		cfg.Capture.Realtime = false
	}
	duration, _ := cmd.Flags().GetDuration("duration")

	logger := initLogger(cfg.Logging)
	appMetrics := metrics.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := newTranscriptionClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	gate := pipeline.NewHealthGate(client, cfg.Service.GetHealthIntervalDuration(), logger)
	go gate.Run(ctx)

	source, container, page, err := newCaptureSource(cfg, logger)
	if err != nil {
		logger.Error("Failed to create capture source", slog.String("error", err.Error()))
		return err
	}

	var servers []*http.Server
	if page != nil {
		servers = append(servers, startHTTP(capturePageRouter(page), cfg.Capture.ListenAddress, "capture page", logger))
		logger.Info("Open the capture page to record",
			slog.String("url", "http://"+cfg.Capture.ListenAddress+"/"))
	}
	if cfg.Metrics.Enabled {
		servers = append(servers, startHTTP(appMetrics.Handler(), cfg.Metrics.Address, "metrics", logger))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		for _, srv := range servers {
			srv.Shutdown(shutdownCtx)
		}
		if page != nil {
			page.Close()
		}
	}()

	mergeMode, err := pipeline.ParseMergeMode(cfg.Pipeline.MergeMode)
	if err != nil {
		return err
	}

	mgr, err := pipeline.NewManager(pipeline.ManagerConfig{
		Container:       container,
		MinSegmentBytes: cfg.Pipeline.MinSegmentBytes,
		MilestoneChars:  cfg.Pipeline.MilestoneChars,
		MergeMode:       mergeMode,
		StopTimeout:     cfg.Pipeline.GetStopTimeoutDuration(),
		Hooks:           recordHooks(page, logger),
	}, client, source, gate, logger, appMetrics)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// a signal during the health probe or the session request aborts the start
	startCtx, startCancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-sigChan:
			startCancel()
		case <-startCtx.Done():
		}
	}()
	sessionID, err := mgr.StartSession(startCtx)
	startCancel()
	if err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Recording", slog.String("session_id", sessionID), slog.String("source", cfg.Capture.Source))

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-timeout:
		logger.Info("Recording duration reached", slog.Duration("duration", duration))
	case <-source.Done():
		logger.Info("Capture finished")
	case <-mgr.Done():
		logger.Warn("Session ended unexpectedly")
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, cfg.Pipeline.GetStopTimeoutDuration())
	defer stopCancel()

	stopErr := mgr.Close(stopCtx)
	if stopErr != nil {
		logger.Error("Error stopping session", slog.String("error", stopErr.Error()))
	}

	printSummary(mgr)

	if session := mgr.Session(); session != nil && session.Err != nil {
		return session.Err
	}
	return stopErr
}

// newCaptureSource builds the configured source and the container matching its output
func newCaptureSource(cfg *config.Config, logger *slog.Logger) (capture.Source, audio.Container, *capture.WebSocketSource, error) {
	constraints := capture.Constraints{
		SampleRate:       cfg.Capture.SampleRate,
		Channels:         cfg.Capture.Channels,
		EchoCancellation: cfg.Capture.EchoCancellation,
		NoiseSuppression: cfg.Capture.NoiseSuppression,
		SegmentInterval:  cfg.Capture.GetSegmentInterval(),
	}

	switch cfg.Capture.Source {
	case "file":
		if cfg.Capture.File == "" {
			return nil, nil, nil, fmt.Errorf("no capture file given (use --file)")
		}
		src := capture.NewFileSource(cfg.Capture.File, constraints, cfg.Capture.Realtime, logger)
		if err := src.Open(); err != nil {
			return nil, nil, nil, err
		}
		// file audio is sent as PCM at its own sample rate
		container, err := audio.NewContainer(audio.ContainerWAV, src.SampleRate(), 1)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, container, nil, nil

	case "websocket":
		name := cfg.Pipeline.Container
		if name == audio.ContainerWAV {
			// browsers record compressed audio
			name = audio.ContainerWebM
		}
		container, err := audio.NewContainer(name, cfg.Capture.SampleRate, cfg.Capture.Channels)
		if err != nil {
			return nil, nil, nil, err
		}
		mimeType := pageMIMEType
		if container.Extension() == "ogg" {
			mimeType = "audio/ogg;codecs=opus"
		}
		src := capture.NewWebSocketSource(constraints, mimeType, cfg.Capture.GetStartTimeoutDuration(), logger)
		return src, container, src, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

// capturePageRouter serves the capture page and its WebSocket endpoint
func capturePageRouter(src *capture.WebSocketSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", capture.PageHandler().ServeHTTP)
	r.Handle("/capture", src)
	return r
}

func startHTTP(handler http.Handler, addr, name string, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP listener", slog.String("name", name), slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP listener error", slog.String("name", name), slog.String("error", err.Error()))
		}
	}()

	return srv
}

// recordHooks logs pipeline events and mirrors transcripts to the capture page
func recordHooks(page *capture.WebSocketSource, logger *slog.Logger) pipeline.Hooks {
	return pipeline.Hooks{
		OnStateChange: func(state pipeline.State) {
			logger.Debug("Session state changed", slog.String("state", state.String()))
		},
		OnTranscript: func(state pipeline.TranscriptState) {
			logger.Info("Transcript updated",
				slog.Int("char_count", state.CharCount),
				slog.Int("fragments", state.Fragments),
			)
			fmt.Printf("\r%s\n", state.Text)
			if page != nil {
				if err := page.SendTranscript(state.Text, state.CharCount, state.Milestone); err != nil {
					logger.Debug("Failed to push transcript to page", slog.String("error", err.Error()))
				}
			}
		},
		OnMilestone: func(charCount int) {
			logger.Info("Transcript milestone reached", slog.Int("char_count", charCount))
		},
		OnError: func(err error) {
			if capture.IsPermissionDenied(err) {
				logger.Error("Microphone permission denied", slog.String("error", err.Error()))
				return
			}
			logger.Warn("Pipeline error", slog.String("error", err.Error()))
		},
	}
}

func printSummary(mgr *pipeline.Manager) {
	stats := mgr.Stats()
	session := mgr.Session()

	fmt.Println()
	fmt.Println("Transcript:")
	fmt.Println(stats.Transcript.Text)
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	if session != nil {
		table.Append([]string{"Session", session.ID})
		table.Append([]string{"State", session.State.String()})
		if !session.EndedAt.IsZero() {
			table.Append([]string{"Duration", session.EndedAt.Sub(session.CreatedAt).Round(time.Millisecond).String()})
		}
	}
	table.Append([]string{"Audio", stats.AudioDuration.Round(time.Millisecond).String()})
	table.Append([]string{"Segments accepted", fmt.Sprintf("%d", stats.SegmentsAccepted)})
	table.Append([]string{"Segments discarded", fmt.Sprintf("%d", stats.SegmentsDiscarded)})
	table.Append([]string{"Payload bytes", fmt.Sprintf("%d", stats.PayloadBytes)})
	table.Append([]string{"Requests sent", fmt.Sprintf("%d", stats.Dispatch.Sent)})
	table.Append([]string{"Requests coalesced", fmt.Sprintf("%d", stats.Dispatch.Coalesced)})
	table.Append([]string{"Requests failed", fmt.Sprintf("%d", stats.Dispatch.Failed)})
	table.Append([]string{"Characters", fmt.Sprintf("%d", stats.Transcript.CharCount)})
	table.Append([]string{"Milestone", fmt.Sprintf("%v", stats.Transcript.Milestone)})

	table.Render()
}
