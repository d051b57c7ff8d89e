// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rabbitize/rabbitize/internal/api"
	"github.com/rabbitize/rabbitize/internal/config"
	rblog "github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/preview"
	"github.com/rabbitize/rabbitize/internal/queue"
	"github.com/rabbitize/rabbitize/internal/rabbiteyes"
	"github.com/rabbitize/rabbitize/internal/session"
	"github.com/rabbitize/rabbitize/internal/store"
	"github.com/rabbitize/rabbitize/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")

	clientID := flag.String("client-id", "", "client identifier for the artifact tree")
	testID := flag.String("test-id", "", "test identifier for the artifact tree")
	sessionID := flag.String("session-id", "", "deterministic session id (batch runs)")
	port := flag.Int("port", 0, "HTTP listen port")
	runsDir := flag.String("runs-dir", "", "root of the artifact tree")
	showOverlay := flag.Bool("show-overlay", true, "inject the visual overlay")
	clipSegments := flag.Bool("clip-segments", false, "scene-split per-command clips after the session")
	processVideo := flag.Bool("process-video", false, "run the ffmpeg post-processing pipeline")
	exitOnEnd := flag.Bool("exit-on-end", false, "exit the process when the session ends")

	stabilityEnabled := flag.Bool("stability-detection", true, "wait for visual stability after each command")
	stabilityWait := flag.Float64("stability-wait", 0, "settle window in seconds")
	stabilitySensitivity := flag.Float64("stability-sensitivity", 0, "frame delta threshold 0..1")
	stabilityInterval := flag.Int("stability-interval", 0, "poll interval in ms")
	stabilityTimeout := flag.Int("stability-timeout", 0, "hard cap in ms")
	stabilityTimeoutThreshold := flag.Int("stability-timeout-threshold", 0, "consecutive timeouts before auto-disable")

	batchURL := flag.String("batch-url", "", "start a batch session at this URL")
	batchCommands := flag.String("batch-commands", "", "JSON array of command arrays for batch mode")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		rblog.Configure(rblog.Config{Level: "info", Service: "rabbitize"})
		logger := rblog.WithComponent("main")
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	// CLI flags take precedence over ENV and file.
	applyFlags(&cfg, flagValues{
		clientID: *clientID, testID: *testID, sessionID: *sessionID,
		port: *port, runsDir: *runsDir,
		showOverlay: *showOverlay, clipSegments: *clipSegments,
		processVideo: *processVideo, exitOnEnd: *exitOnEnd,
		stabilityEnabled: *stabilityEnabled, stabilityWait: *stabilityWait,
		stabilitySensitivity: *stabilitySensitivity,
		stabilityInterval:    *stabilityInterval, stabilityTimeout: *stabilityTimeout,
		stabilityTimeoutThreshold: *stabilityTimeoutThreshold,
		batchURL:                  *batchURL, batchCommands: *batchCommands,
	})

	rblog.Configure(rblog.Config{Level: cfg.LogLevel, Service: "rabbitize"})
	logger := rblog.WithComponent("main")

	if err := config.Validate(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("flag overrides produced an invalid configuration")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Int("port", cfg.Server.Port).
		Str("runs_dir", cfg.RunsDir).
		Msg("starting rabbitize")
	logger.Info().Msgf("→ overlay: %v, stability: %v, video: %v, clips: %v",
		cfg.ShowOverlay, cfg.Stability.Enabled, cfg.Video.ProcessVideo, cfg.Video.ClipSegments)

	sink := store.Open(cfg.EventSinkDir)
	defer sink.Close()

	deps := session.Deps{
		Topic:  preview.NewTopic(),
		Sink:   sink,
		Eyes:   rabbiteyes.New(cfg.EyesURL, cfg.EyesAPIKey),
		Vision: rabbiteyes.NewVision(cfg.EyesURL, cfg.EyesAPIKey),
	}
	engine := session.New(cfg, deps)

	q := queue.New(engine)
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()
	go q.Run(queueCtx)

	sessionDone := make(chan struct{}, 1)
	engine.OnSessionEnd = func() {
		select {
		case sessionDone <- struct{}{}:
		default:
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(cfg.Server, q, cfg.RunsDir, nil).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	batchMode := cfg.BatchURL != ""
	if batchMode {
		if err := enqueueBatch(q, cfg); err != nil {
			logger.Fatal().Err(err).Msg("batch enqueue failed")
		}
	}

	exitCode := 0
wait:
	for {
		select {
		case <-ctx.Done():
			// Termination: best-effort quick end, exit non-zero.
			logger.Warn().Msg("termination signal received")
			if engine.Started() {
				endCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := engine.End(endCtx, true); err != nil {
					logger.Error().Err(err).Msg("quick end failed")
				}
				cancel()
			}
			exitCode = 1
			break wait
		case err := <-serverErr:
			logger.Error().Err(err).Msg("http server failed")
			exitCode = 1
			break wait
		case <-sessionDone:
			if batchMode || cfg.ExitOnEnd {
				break wait
			}
			// Keep serving for the next session.
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	q.Close()
	cancelQueue()

	logger.Info().Int("exit_code", exitCode).Msg("rabbitize exiting")
	os.Exit(exitCode)
}

type flagValues struct {
	clientID, testID, sessionID string
	port                        int
	runsDir                     string
	showOverlay                 bool
	clipSegments                bool
	processVideo                bool
	exitOnEnd                   bool
	stabilityEnabled            bool
	stabilityWait               float64
	stabilitySensitivity        float64
	stabilityInterval           int
	stabilityTimeout            int
	stabilityTimeoutThreshold   int
	batchURL, batchCommands     string
}

func applyFlags(cfg *config.Config, v flagValues) {
	if v.clientID != "" {
		cfg.ClientID = v.clientID
	}
	if v.testID != "" {
		cfg.TestID = v.testID
	}
	if v.sessionID != "" {
		cfg.SessionID = v.sessionID
	}
	if v.port != 0 {
		cfg.Server.Port = v.port
	}
	if v.runsDir != "" {
		cfg.RunsDir = v.runsDir
	}
	cfg.ShowOverlay = v.showOverlay
	cfg.Video.ClipSegments = v.clipSegments || cfg.Video.ClipSegments
	cfg.Video.ProcessVideo = v.processVideo || cfg.Video.ProcessVideo
	cfg.ExitOnEnd = v.exitOnEnd || cfg.ExitOnEnd
	cfg.Stability.Enabled = v.stabilityEnabled && cfg.Stability.Enabled
	if v.stabilityWait > 0 {
		cfg.Stability.WaitTime = v.stabilityWait
	}
	if v.stabilitySensitivity > 0 {
		cfg.Stability.Sensitivity = v.stabilitySensitivity
	}
	if v.stabilityInterval > 0 {
		cfg.Stability.Interval = v.stabilityInterval
	}
	if v.stabilityTimeout > 0 {
		cfg.Stability.Timeout = v.stabilityTimeout
	}
	if v.stabilityTimeoutThreshold > 0 {
		cfg.Stability.TimeoutThreshold = v.stabilityTimeoutThreshold
	}
	if v.batchURL != "" {
		cfg.BatchURL = v.batchURL
	}
	if v.batchCommands != "" {
		cfg.BatchCommands = v.batchCommands
	}
}

// enqueueBatch queues start, every batch command and end in one shot.
func enqueueBatch(q *queue.Queue, cfg config.Config) error {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "batch"
	}
	testID := cfg.TestID
	if testID == "" {
		testID = "batch"
	}
	if _, err := q.EnqueueStart(queue.StartRequest{
		URL:       cfg.BatchURL,
		ClientID:  clientID,
		TestID:    testID,
		SessionID: cfg.SessionID,
	}); err != nil {
		return fmt.Errorf("enqueue start: %w", err)
	}

	if strings.TrimSpace(cfg.BatchCommands) != "" {
		var commands [][]any
		if err := json.Unmarshal([]byte(cfg.BatchCommands), &commands); err != nil {
			return fmt.Errorf("parse batch commands: %w", err)
		}
		for i, raw := range commands {
			if _, err := q.EnqueueExecute(raw); err != nil {
				return fmt.Errorf("enqueue command %d: %w", i, err)
			}
		}
	}

	if _, err := q.EnqueueEnd(queue.EndRequest{}); err != nil {
		return fmt.Errorf("enqueue end: %w", err)
	}
	return nil
}
