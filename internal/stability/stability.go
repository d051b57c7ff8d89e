// SPDX-License-Identifier: MIT

// Package stability decides when a page has visually settled after a
// command. It samples downscaled frames at a fixed cadence and declares
// stability once a run of consecutive frames stays within a pixel-difference
// tolerance. Detection is advisory: a timeout degrades the step, never the
// session.
package stability

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/config"
	"github.com/rabbitize/rabbitize/internal/log"
)

// ErrTimeout marks a wait that hit its ceiling before the page settled.
var ErrTimeout = errors.New("stability timeout")

// CaptureFunc produces the current viewport as a decoded image. The detector
// downscales it itself, so any size is fine.
type CaptureFunc func(ctx context.Context) (image.Image, error)

// Result describes one completed wait.
type Result struct {
	Stable   bool
	Frames   int
	Elapsed  time.Duration
	TimedOut bool
}

// Detector runs the frame-diff loop. It tracks consecutive timeouts and
// disables itself once the configured threshold is reached; a navigation
// re-enables it.
type Detector struct {
	cfg     config.Stability
	capture CaptureFunc
	logger  zerolog.Logger

	mu          sync.Mutex
	timeouts    int
	autoDisable bool
	stopped     bool
}

// New builds a detector from session config.
func New(cfg config.Stability, capture CaptureFunc) *Detector {
	return &Detector{
		cfg:     cfg,
		capture: capture,
		logger:  log.WithComponent("stability"),
	}
}

// Enabled reports whether the next Wait will actually sample.
func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Enabled && !d.autoDisable
}

// Stop aborts an in-flight Wait at its next sample tick. Used by the session
// teardown so :end never blocks on a busy page.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// NotifyNavigation resets the consecutive-timeout counter and lifts an
// auto-disable, since a fresh document invalidates the old verdicts.
func (d *Detector) NotifyNavigation() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.autoDisable {
		d.logger.Info().Msg("re-enabling stability detection after navigation")
	}
	d.timeouts = 0
	d.autoDisable = false
}

// Wait blocks until the page is stable, the timeout elapses, Stop is called
// or ctx is done. A timeout returns a Result with TimedOut set together with
// ErrTimeout; callers log and continue.
func (d *Detector) Wait(ctx context.Context) (Result, error) {
	d.mu.Lock()
	if !d.cfg.Enabled || d.autoDisable {
		d.mu.Unlock()
		return Result{Stable: true}, nil
	}
	d.stopped = false
	d.mu.Unlock()

	interval := time.Duration(d.cfg.Interval) * time.Millisecond
	timeout := time.Duration(d.cfg.Timeout) * time.Millisecond

	// Frames that must match in a row to call the page stable.
	needed := int(math.Ceil(d.cfg.WaitTime * 1000 / float64(d.cfg.Interval)))
	if needed < 1 {
		needed = 1
	}

	start := time.Now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev image.Image
	matched := 0
	frames := 0

	for {
		select {
		case <-ctx.Done():
			return Result{Frames: frames, Elapsed: time.Since(start)}, ctx.Err()
		case <-ticker.C:
		}

		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return Result{Frames: frames, Elapsed: time.Since(start)}, nil
		}

		frame, err := d.capture(ctx)
		if err != nil {
			return Result{Frames: frames, Elapsed: time.Since(start)}, fmt.Errorf("capture frame: %w", err)
		}
		small := downscale(frame, d.cfg.DownscaleWidth)
		frames++

		if prev != nil {
			if FrameDiff(prev, small) <= d.cfg.Sensitivity {
				matched++
				if matched >= needed {
					d.recordSuccess()
					return Result{Stable: true, Frames: frames, Elapsed: time.Since(start)}, nil
				}
			} else {
				matched = 0
			}
		}
		prev = small

		if time.Now().After(deadline) {
			d.recordTimeout()
			return Result{Frames: frames, Elapsed: time.Since(start), TimedOut: true}, ErrTimeout
		}
	}
}

func (d *Detector) recordSuccess() {
	d.mu.Lock()
	d.timeouts = 0
	d.mu.Unlock()
}

func (d *Detector) recordTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts++
	if d.cfg.TimeoutThreshold > 0 && d.timeouts >= d.cfg.TimeoutThreshold {
		d.autoDisable = true
		d.logger.Warn().
			Int("consecutive_timeouts", d.timeouts).
			Msg("stability detection auto-disabled until next navigation")
	}
}
