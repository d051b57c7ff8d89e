// SPDX-License-Identifier: MIT

// Package preview keeps a near-live JPEG of the session viewport available
// while commands run. The pump captures on a cadence derived from the
// configured refresh interval, writes latest.jpg into the session tree (and
// /dev/shm when available) and publishes frames to in-process subscribers.
package preview

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/log"
)

// CaptureFunc returns the current viewport as encoded JPEG bytes.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// Cadence maps the user-facing refresh setting to the actual capture period.
// The pump undershoots the nominal period slightly so a consumer polling at
// the nominal rate always sees a fresh frame.
func Cadence(refresh time.Duration) time.Duration {
	switch {
	case refresh <= 0:
		return 220 * time.Millisecond
	case refresh <= time.Second:
		return 900 * time.Millisecond
	case refresh <= 2*time.Second:
		return 1900 * time.Millisecond
	case refresh <= 5*time.Second:
		return 4900 * time.Millisecond
	default:
		return 9900 * time.Millisecond
	}
}

// Pump runs the capture loop for one session.
type Pump struct {
	tree    *artifacts.Tree
	capture CaptureFunc
	period  time.Duration
	topic   *Topic
	logger  zerolog.Logger

	shmPath string

	mu     sync.Mutex
	busy   bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPump wires a pump to a session tree and an optional topic for live
// subscribers (nil disables publishing).
func NewPump(tree *artifacts.Tree, capture CaptureFunc, refresh time.Duration, topic *Topic) *Pump {
	return &Pump{
		tree:    tree,
		capture: capture,
		period:  Cadence(refresh),
		topic:   topic,
		logger:  log.WithComponent("preview"),
		shmPath: shmLatestPath(tree),
	}
}

// shmLatestPath probes /dev/shm for writability once at construction. The
// shm copy lets sidecar processes read frames without touching the run dir.
func shmLatestPath(tree *artifacts.Tree) string {
	dir := filepath.Join("/dev/shm", "rabbitize", tree.ClientID, tree.TestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	probe := filepath.Join(dir, ".probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return ""
	}
	os.Remove(probe)
	return filepath.Join(dir, "latest.jpg")
}

// Start launches the loop. Capture never overlaps: a slow frame skips ticks.
func (p *Pump) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
	p.logger.Debug().Dur("period", p.period).Msg("preview pump started")
}

func (p *Pump) tick(ctx context.Context) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return
	}
	p.busy = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}()

	data, err := p.capture(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("preview capture failed")
		return
	}
	if err := artifacts.WriteFileAtomic(p.tree.LatestJPG(), data); err != nil {
		p.logger.Debug().Err(err).Msg("writing latest.jpg failed")
	}
	if p.shmPath != "" {
		if err := os.WriteFile(p.shmPath, data, 0o644); err != nil {
			p.shmPath = "" // stop trying
		}
	}
	if p.topic != nil {
		p.topic.Publish(p.tree.Key(), data)
	}
}

// Stop halts the loop and waits for an in-flight capture to finish.
func (p *Pump) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}
