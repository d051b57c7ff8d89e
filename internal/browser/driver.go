// SPDX-License-Identifier: MIT

// Package browser is a thin capability wrapper over a headless
// chromium-class engine driven through go-rod. It owns launch flags, the
// single page the session engine operates on, input dispatch, capture
// (screenshot/PDF) and the screencast-based video recorder.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
)

// Options configures a driver instance.
type Options struct {
	Width  int
	Height int

	// RecordVideo starts a screencast recorder writing to VideoPath.
	RecordVideo bool
	VideoPath   string
	FFmpegBin   string
}

// ErrNavigationTimeout marks a navigation that exceeded its ceiling; callers
// treat it as a soft failure.
var ErrNavigationTimeout = errors.New("navigation timeout")

// Driver owns one browser and one page.
type Driver struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	recorder *Recorder
	logger   zerolog.Logger

	mu            sync.Mutex
	armedFiles    []string
	chooserWarn   func()
	stopDownloads context.CancelFunc

	width  int
	height int
}

// New returns an unconnected driver.
func New(opts Options) *Driver {
	if opts.Width == 0 {
		opts.Width = 1920
	}
	if opts.Height == 0 {
		opts.Height = 1080
	}
	if opts.FFmpegBin == "" {
		opts.FFmpegBin = "ffmpeg"
	}
	return &Driver{
		opts:   opts,
		logger: log.WithComponent("browser"),
		width:  opts.Width,
		height: opts.Height,
	}
}

// Launch starts the browser process with flags tuned for small VMs and
// connects to it. HTTP(S)_PROXY from the environment is forwarded.
func (d *Driver) Launch(ctx context.Context) error {
	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("disable-translate").
		Set("mute-audio").
		Set("no-first-run").
		Set("window-size", fmt.Sprintf("%d,%d", d.opts.Width, d.opts.Height))

	if proxy := proxyFromEnv(); proxy != "" {
		l = l.Proxy(proxy)
		d.logger.Info().Str("proxy", proxy).Msg("forwarding proxy to browser")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	d.launcher = l

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	d.browser = b
	return nil
}

// NewPage creates the session page, sizes the viewport, enables downloads
// and file-chooser interception, and starts the recorder when configured.
func (d *Driver) NewPage(ctx context.Context) error {
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	d.page = page.Context(ctx)

	if err := d.setViewport(d.width, d.height); err != nil {
		return err
	}

	if err := (proto.PageSetInterceptFileChooserDialog{Enabled: true}).Call(d.page); err != nil {
		d.logger.Warn().Err(err).Msg("file chooser interception unavailable")
	} else {
		go d.page.EachEvent(func(e *proto.PageFileChooserOpened) {
			d.handleFileChooser(e)
		})()
	}

	if d.opts.RecordVideo {
		rec, err := StartRecorder(ctx, d.page, RecorderOptions{
			FFmpegBin: d.opts.FFmpegBin,
			OutPath:   d.opts.VideoPath,
			Width:     d.opts.Width,
			Height:    d.opts.Height,
		})
		if err != nil {
			// Recording failure must not block the session.
			d.logger.Warn().Err(err).Msg("video recorder failed to start")
		} else {
			d.recorder = rec
		}
	}
	return nil
}

// Page exposes the underlying rod page for overlay injection and eval.
func (d *Driver) Page() *rod.Page { return d.page }

// Viewport returns the current logical viewport size.
func (d *Driver) Viewport() (int, int) { return d.width, d.height }

// Navigate drives the page to url waiting for domcontentloaded, bounded by
// timeout. A deadline hit maps to ErrNavigationTimeout.
func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := d.page.Context(ctx).Timeout(timeout)
	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNavigationTimeout
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrNavigationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Back navigates one history entry back.
func (d *Driver) Back() error {
	if err := d.page.NavigateBack(); err != nil {
		return fmt.Errorf("history back: %w", err)
	}
	return nil
}

// Forward navigates one history entry forward.
func (d *Driver) Forward() error {
	if err := d.page.NavigateForward(); err != nil {
		return fmt.Errorf("history forward: %w", err)
	}
	return nil
}

// AdjustViewport applies integer deltas to the viewport.
func (d *Driver) AdjustViewport(dw, dh int) (int, int, error) {
	w := d.width + dw
	h := d.height + dh
	if w < 320 {
		w = 320
	}
	if h < 240 {
		h = 240
	}
	if err := d.setViewport(w, h); err != nil {
		return d.width, d.height, err
	}
	d.width, d.height = w, h
	return w, h, nil
}

func (d *Driver) setViewport(w, h int) error {
	err := d.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		return fmt.Errorf("set viewport %dx%d: %w", w, h, err)
	}
	return nil
}

// SetDownloadDir routes all subsequent downloads into dir. onComplete, when
// non-nil, fires with the final path of every finished download.
func (d *Driver) SetDownloadDir(dir string, onComplete func(path string)) error {
	err := (proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath:  dir,
		EventsEnabled: true,
	}).Call(d.browser)
	if err != nil {
		return fmt.Errorf("set download dir %s: %w", dir, err)
	}
	if onComplete == nil {
		return nil
	}

	evCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.stopDownloads != nil {
		d.stopDownloads()
	}
	d.stopDownloads = cancel
	d.mu.Unlock()

	// Completion events only carry the guid; remember the suggested name
	// from the begin event to reconstruct the on-disk path.
	var (
		namesMu sync.Mutex
		names   = map[string]string{}
	)
	go d.browser.Context(evCtx).EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			namesMu.Lock()
			names[string(e.GUID)] = e.SuggestedFilename
			namesMu.Unlock()
		},
		func(e *proto.BrowserDownloadProgress) {
			if e.State != proto.BrowserDownloadProgressStateCompleted {
				return
			}
			namesMu.Lock()
			name := names[string(e.GUID)]
			delete(names, string(e.GUID))
			namesMu.Unlock()
			if name == "" {
				return
			}
			onComplete(filepath.Join(dir, name))
		},
	)()
	return nil
}

// ArmFileChooser stores files for the next chooser event (single-shot) and
// registers a callback fired when a chooser opens with nothing armed.
func (d *Driver) ArmFileChooser(files []string, onUnarmed func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armedFiles = files
	d.chooserWarn = onUnarmed
}

// ArmedFiles reports the currently armed chooser files.
func (d *Driver) ArmedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.armedFiles...)
}

func (d *Driver) handleFileChooser(e *proto.PageFileChooserOpened) {
	d.mu.Lock()
	files := d.armedFiles
	warn := d.chooserWarn
	d.armedFiles = nil // single-shot
	d.mu.Unlock()

	if len(files) == 0 {
		d.logger.Warn().Msg("file chooser opened with no armed files, declining")
		if warn != nil {
			warn()
		}
		return
	}
	err := (proto.DOMSetFileInputFiles{
		Files:         files,
		BackendNodeID: e.BackendNodeID,
	}).Call(d.page)
	if err != nil {
		d.logger.Error().Err(err).Strs("files", files).Msg("submitting chooser files failed")
		return
	}
	d.logger.Info().Strs("files", files).Msg("submitted files to chooser")
}

// StopRecording finalizes the screencast recorder, if any.
func (d *Driver) StopRecording() error {
	if d.recorder == nil {
		return nil
	}
	err := d.recorder.Stop()
	d.recorder = nil
	return err
}

// ClosePage closes the page; this also ends the screencast.
func (d *Driver) ClosePage() error {
	if d.page == nil {
		return nil
	}
	err := d.page.Close()
	d.page = nil
	if err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

// Close tears down browser and launcher.
func (d *Driver) Close() error {
	var errs []error
	d.mu.Lock()
	if d.stopDownloads != nil {
		d.stopDownloads()
		d.stopDownloads = nil
	}
	d.mu.Unlock()
	if d.page != nil {
		if err := d.ClosePage(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
		d.launcher = nil
	}
	return errors.Join(errs...)
}

// IsContextDestroyed classifies rod/CDP errors that indicate the execution
// context vanished under us (navigation tore it down). These are soft
// conditions for the step loop.
func IsContextDestroyed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Cannot find context") ||
		strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Inspected target navigated or closed") ||
		strings.Contains(msg, "no object with guid")
}

func proxyFromEnv() string {
	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
