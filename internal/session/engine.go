// SPDX-License-Identifier: MIT

// Package session owns the lifecycle of one browser session: launch,
// per-command step loop, artifact production and teardown. The engine is
// driven by the queue consumer, so all methods run on one goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/browser"
	"github.com/rabbitize/rabbitize/internal/command"
	"github.com/rabbitize/rabbitize/internal/config"
	"github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/metrics"
	"github.com/rabbitize/rabbitize/internal/overlay"
	"github.com/rabbitize/rabbitize/internal/preview"
	"github.com/rabbitize/rabbitize/internal/queue"
	"github.com/rabbitize/rabbitize/internal/rabbiteyes"
	"github.com/rabbitize/rabbitize/internal/stability"
	"github.com/rabbitize/rabbitize/internal/store"
	"github.com/rabbitize/rabbitize/internal/video"
)

// Session phases surfaced in status.json.
const (
	PhaseInitializing  = "initializing"
	PhaseRunning       = "running"
	PhaseEnding        = "ending_session"
	PhaseUploading     = "uploading_files"
	PhaseComplete      = "complete"
	PhaseAutoEnd       = "auto_end_inactivity"
	PhaseInitFailed    = "initialization_failed"
	previewQualityJPEG = 60
)

var (
	// ErrNotStarted rejects commands before initialization.
	ErrNotStarted = errors.New("session not started")
	// ErrEnded rejects commands after teardown.
	ErrEnded = errors.New("session already ended")
)

// Engine implements queue.Engine for one session.
type Engine struct {
	cfg    config.Config
	topic  *preview.Topic
	sink   *store.Sink
	eyes   *rabbiteyes.Client
	vision *rabbiteyes.Vision
	logger zerolog.Logger

	// OnSessionEnd fires after End completes, used by batch mode to exit.
	OnSessionEnd func()

	mu      sync.Mutex
	started bool
	ended   bool

	tree       *artifacts.Tree
	driver     *browser.Driver
	surface    *overlay.Surface
	detector   *stability.Detector
	sampler    *metrics.Sampler
	pump       *preview.Pump
	cmdLog     *artifacts.CommandLog
	status     *artifacts.StatusWriter
	rt         *command.Runtime
	inactivity *time.Timer

	commandCounter int
	errorCount     int
	initialURL     string
	startTime      time.Time
	workerCancel   context.CancelFunc
}

// Deps carries the process-wide collaborators shared across sessions.
type Deps struct {
	Topic  *preview.Topic
	Sink   *store.Sink
	Eyes   *rabbiteyes.Client
	Vision *rabbiteyes.Vision
}

// New builds an engine from config and shared dependencies.
func New(cfg config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:    cfg,
		topic:  deps.Topic,
		sink:   deps.Sink,
		eyes:   deps.Eyes,
		vision: deps.Vision,
		logger: log.WithComponent("session"),
	}
}

// Tree exposes the artifact layout once started, nil before.
func (e *Engine) Tree() *artifacts.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree
}

// CommandCounter reports executed commands.
func (e *Engine) CommandCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commandCounter
}

// Started reports whether initialization completed.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.ended
}

// Start launches the browser, builds the artifact tree and navigates to the
// initial URL.
func (e *Engine) Start(ctx context.Context, req queue.StartRequest) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("session already started")
	}
	e.mu.Unlock()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = e.cfg.SessionID
	}
	if sessionID == "" {
		sessionID = artifacts.NewSessionID(time.Now())
	}
	interactive := sessionID == config.InteractiveSessionID

	tree := artifacts.NewTree(e.cfg.RunsDir, req.ClientID, req.TestID, sessionID)
	if err := tree.Init(); err != nil {
		return fmt.Errorf("init session tree: %w", err)
	}
	logger := log.WithSession("session", tree.ClientID, tree.TestID, tree.SessionID)

	timeoutPage, err := writeTimeoutPage(tree.Root())
	if err != nil {
		logger.Warn().Err(err).Msg("timeout page unavailable")
	}

	status := artifacts.NewStatusWriter(tree, artifacts.Status{
		Phase:           PhaseInitializing,
		StartTime:       time.Now().UnixMilli(),
		InitialURL:      req.URL,
		Port:            e.cfg.Server.Port,
		VideoProcessing: e.cfg.Video.ProcessVideo,
	})
	if err := status.Update(func(s *artifacts.Status) {}); err != nil {
		logger.Warn().Err(err).Msg("initial status write failed")
	}

	driver := browser.New(browser.Options{
		Width:       e.cfg.Video.Width,
		Height:      e.cfg.Video.Height,
		RecordVideo: recordVideo(e.cfg, req.TestID, interactive),
		VideoPath:   tree.RawVideo(),
		FFmpegBin:   e.cfg.FFmpegBin,
	})
	if err := driver.Launch(ctx); err != nil {
		status.Update(func(s *artifacts.Status) {
			s.Phase = PhaseInitFailed
			s.Errors = append(s.Errors, err.Error())
		})
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := driver.NewPage(ctx); err != nil {
		driver.Close()
		status.Update(func(s *artifacts.Status) {
			s.Phase = PhaseInitFailed
			s.Errors = append(s.Errors, err.Error())
		})
		return fmt.Errorf("initialization failed: %w", err)
	}

	surface := overlay.New(e.cfg.ShowOverlay, interactive)
	if err := surface.Attach(driver.Page()); err != nil {
		logger.Warn().Err(err).Msg("overlay attach failed")
	}

	detector := stability.New(e.cfg.Stability, func(ctx context.Context) (image.Image, error) {
		data, err := driver.ScreenshotJPEG(50)
		if err != nil {
			return nil, err
		}
		return artifacts.DecodeImage(data)
	})

	sampler := metrics.NewSampler(tree)
	pump := preview.NewPump(tree, func(ctx context.Context) ([]byte, error) {
		return driver.ScreenshotJPEG(previewQualityJPEG)
	}, time.Duration(e.cfg.PreviewRefresh)*time.Second, e.topic)

	workerCtx, cancel := context.WithCancel(context.Background())
	sampler.Start(workerCtx)
	pump.Start(workerCtx)

	w, h := driver.Viewport()
	rt := &command.Runtime{
		Driver:          driver,
		Overlay:         surface,
		Tree:            tree,
		Vision:          e.vision,
		Logger:          logger,
		MouseX:          float64(w) / 2,
		MouseY:          float64(h) / 2,
		NavTimeout:      60 * time.Second,
		TimeoutPagePath: timeoutPage,
		OnNavigate:      detector.NotifyNavigation,
	}

	e.mu.Lock()
	e.tree = tree
	e.driver = driver
	e.surface = surface
	e.detector = detector
	e.sampler = sampler
	e.pump = pump
	e.cmdLog = artifacts.NewCommandLog(tree)
	e.status = status
	e.rt = rt
	e.logger = logger
	e.initialURL = req.URL
	e.startTime = time.Now()
	e.started = true
	e.workerCancel = cancel
	e.resetInactivityLocked()
	e.mu.Unlock()

	metrics.SessionsActive.Inc()
	e.sink.Record(tree.Key(), "session_start", map[string]any{"url": req.URL})
	e.eyes.Notify(context.Background(), rabbiteyes.Event{
		Type: "session_start", ClientID: tree.ClientID, TestID: tree.TestID, SessionID: tree.SessionID,
	})

	if req.URL != "" {
		if err := driver.Navigate(ctx, req.URL, rt.NavTimeout); err != nil {
			logger.Warn().Err(err).Str("url", req.URL).Msg("initial navigation failed")
		}
	}
	e.captureInitialDOM()

	status.Update(func(s *artifacts.Status) { s.Phase = PhaseRunning })
	logger.Info().Str("url", req.URL).Bool("interactive", interactive).Msg("session started")
	return nil
}

// resetInactivityLocked arms the one-shot auto-end timer; caller holds the
// lock.
func (e *Engine) resetInactivityLocked() {
	if e.inactivity != nil {
		e.inactivity.Stop()
	}
	e.inactivity = time.AfterFunc(config.InactivityTimeout, e.autoEnd)
}

func (e *Engine) autoEnd() {
	e.mu.Lock()
	if !e.started || e.ended {
		e.mu.Unlock()
		return
	}
	status := e.status
	e.mu.Unlock()

	e.logger.Warn().Msg("inactivity timeout, ending session")
	status.Update(func(s *artifacts.Status) { s.Phase = PhaseAutoEnd })
	if err := e.End(context.Background(), false); err != nil {
		e.logger.Error().Err(err).Msg("auto end failed")
	}
}

// captureInitialDOM writes dom_coords_initial.json for the landing page.
func (e *Engine) captureInitialDOM() {
	coords, err := e.captureDOMCoords()
	if err != nil {
		e.logger.Debug().Err(err).Msg("initial dom capture failed")
		return
	}
	if err := artifacts.WriteJSONAtomic(e.tree.DomCoordsInitial(), coords); err != nil {
		e.logger.Warn().Err(err).Msg("initial dom write failed")
	}
}

// End tears down the session and runs post-processing unless quick is set.
func (e *Engine) End(ctx context.Context, quick bool) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.ended {
		e.mu.Unlock()
		return nil
	}
	e.ended = true
	if e.inactivity != nil {
		e.inactivity.Stop()
	}
	e.mu.Unlock()

	e.status.Update(func(s *artifacts.Status) { s.Phase = PhaseEnding })
	e.logger.Info().Bool("quick", quick).Msg("ending session")

	// Stop workers before tearing the page down.
	e.detector.Stop()
	e.pump.Stop()
	if err := e.sampler.Stop(); err != nil {
		e.logger.Warn().Err(err).Msg("metrics flush failed")
	}
	e.workerCancel()

	if err := e.driver.StopRecording(); err != nil {
		e.logger.Warn().Err(err).Msg("stopping recorder failed")
	}
	if err := e.driver.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("browser teardown failed")
	}

	if !quick && e.cfg.Video.ProcessVideo {
		pipeline := video.NewPipeline(video.NewFFmpeg(e.cfg.FFmpegBin), e.tree)
		pipeline.SetPhase = func(phase string) {
			e.status.Update(func(s *artifacts.Status) { s.Phase = phase })
		}
		err := pipeline.Process(ctx, e.cmdLog.Records(), video.PipelineOptions{
			ClipSegments: e.cfg.Video.ClipSegments,
			VideoStartMS: e.startTime.UnixMilli(),
		})
		if err != nil {
			// Post-processing never fails the session.
			e.logger.Warn().Err(err).Msg("video post-processing failed")
		}
	}

	e.writeFinalArtifacts()

	e.status.Update(func(s *artifacts.Status) { s.Phase = PhaseUploading })
	e.uploadArtifacts()

	e.status.Update(func(s *artifacts.Status) {
		s.Phase = PhaseComplete
		s.Status = "finished"
	})
	metrics.SessionsActive.Dec()
	e.topicDrop()
	e.sink.Record(e.tree.Key(), "session_end", map[string]any{
		"commandsExecuted": e.commandCounter,
		"errors":           e.errorCount,
	})
	e.eyes.Notify(context.Background(), rabbiteyes.Event{
		Type: "session_end", ClientID: e.tree.ClientID, TestID: e.tree.TestID, SessionID: e.tree.SessionID,
	})

	if line, err := artifacts.SummaryLine(artifacts.ExecutionSummary{
		ClientID:         e.tree.ClientID,
		TestID:           e.tree.TestID,
		SessionID:        e.tree.SessionID,
		CommandsExecuted: e.commandCounter,
		Errors:           e.errorCount,
		DurationMs:       time.Since(e.startTime).Milliseconds(),
		SessionPath:      e.tree.Root(),
	}); err == nil {
		fmt.Fprintln(os.Stdout, line)
	}

	e.logger.Info().Int("commands", e.commandCounter).Msg("session complete")

	e.resetForNextSession()

	if e.OnSessionEnd != nil {
		e.OnSessionEnd()
	}
	return nil
}

// recordVideo decides whether the screencast recorder runs. A "no-video"
// marker in the test id opts out, and interactive sessions only record when
// a video stage is explicitly requested.
func recordVideo(cfg config.Config, testID string, interactive bool) bool {
	if strings.Contains(testID, "no-video") {
		return false
	}
	if interactive && !cfg.Video.ProcessVideo && !cfg.Video.ClipSegments {
		return false
	}
	return true
}

// uploadArtifacts mirrors the session's summary files into every configured
// upload target, best-effort.
func (e *Engine) uploadArtifacts() {
	for _, target := range e.cfg.UploadTargets {
		dst := filepath.Join(target, e.tree.ClientID, e.tree.TestID, e.tree.SessionID)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			e.logger.Warn().Err(err).Str("target", target).Msg("upload target unavailable")
			continue
		}
		for _, src := range []string{
			e.tree.CommandsJSON(),
			e.tree.MetricsJSON(),
			e.tree.ColorPatternsJSON(),
			e.tree.SessionMetadataJSON(),
			e.tree.SessionMP4(),
		} {
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if _, err := artifacts.CopyFile(src, dst); err != nil {
				e.logger.Warn().Err(err).Str("file", src).Msg("upload copy failed")
			}
		}
	}
}

// resetForNextSession clears the lifecycle latches so a later start item
// builds a fresh session with its own timestamp id.
func (e *Engine) resetForNextSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	e.ended = false
	e.commandCounter = 0
	e.errorCount = 0
}

func (e *Engine) topicDrop() {
	if e.topic != nil {
		e.topic.Drop(e.tree.Key())
	}
}

// writeFinalArtifacts flushes commands.json, metrics.json,
// color-patterns.json and session-metadata.json.
func (e *Engine) writeFinalArtifacts() {
	if err := e.cmdLog.Flush(); err != nil {
		e.logger.Warn().Err(err).Msg("command log flush failed")
	}
	if err := e.sampler.Flush(); err != nil {
		e.logger.Warn().Err(err).Msg("metrics flush failed")
	}
	if err := artifacts.WriteJSONAtomic(e.tree.ColorPatternsJSON(), e.surface.Colors().Snapshot()); err != nil {
		e.logger.Warn().Err(err).Msg("color patterns write failed")
	}
	meta := artifacts.SessionMetadata{
		ClientID:      e.tree.ClientID,
		TestID:        e.tree.TestID,
		SessionID:     e.tree.SessionID,
		InitialURL:    e.initialURL,
		StartTime:     e.startTime.UnixMilli(),
		EndTime:       time.Now().UnixMilli(),
		DurationMs:    time.Since(e.startTime).Milliseconds(),
		CommandCount:  e.commandCounter,
		Status:        "finished",
		VideoRecorded: true,
		Interactive:   e.tree.SessionID == config.InteractiveSessionID,
	}
	if err := artifacts.WriteJSONAtomic(e.tree.SessionMetadataJSON(), meta); err != nil {
		e.logger.Warn().Err(err).Msg("session metadata write failed")
	}
}
