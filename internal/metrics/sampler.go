// SPDX-License-Identifier: MIT

// Package metrics samples process resource usage once per second for the
// session's metrics.json and exports operational counters on the Prometheus
// registry.
package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/log"
)

// Sample is one row of the metrics.json time series.
type Sample struct {
	Timestamp      string  `json:"timestamp"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	ElapsedMS      int64   `json:"elapsed_ms"`
	CurrentCommand string  `json:"current_command,omitempty"`
	CommandIndex   int     `json:"command_index"`
	CommandRaw     string  `json:"command_raw,omitempty"`
}

// Sampler collects one Sample per second while running. Collection never
// overlaps: a slow probe skips ticks instead of queueing.
type Sampler struct {
	tree   *artifacts.Tree
	proc   *process.Process
	logger zerolog.Logger

	mu       sync.Mutex
	samples  []Sample
	current  string
	index    int
	raw      string
	sampling bool

	start  time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler builds a sampler flushing to the session tree. It probes the
// engine's own process, not the whole machine.
func NewSampler(tree *artifacts.Tree) *Sampler {
	logger := log.WithComponent("metrics")
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("process handle unavailable, samples carry zeros")
	}
	return &Sampler{
		tree:   tree,
		proc:   proc,
		logger: logger,
		index:  -1,
	}
}

// SetCurrentCommand tags subsequent samples with the in-flight command.
func (s *Sampler) SetCurrentCommand(index int, verb, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.current = verb
	s.raw = raw
}

// ClearCurrentCommand marks the session idle between commands.
func (s *Sampler) ClearCurrentCommand() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.raw = ""
}

// Start launches the sampling loop.
func (s *Sampler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.start = time.Now()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Sampler) tick() {
	s.mu.Lock()
	if s.sampling {
		s.mu.Unlock()
		return
	}
	s.sampling = true
	index, verb, raw := s.index, s.current, s.raw
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sampling = false
		s.mu.Unlock()
	}()

	sample := Sample{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		ElapsedMS:      time.Since(s.start).Milliseconds(),
		CurrentCommand: verb,
		CommandIndex:   index,
		CommandRaw:     raw,
	}
	if s.proc != nil {
		if pct, err := s.proc.CPUPercent(); err == nil {
			sample.CPUPercent = pct
		}
		if mi, err := s.proc.MemoryInfo(); err == nil && mi != nil {
			sample.MemoryMB = float64(mi.RSS) / (1024 * 1024)
		}
	}

	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// Samples returns a copy of the collected series.
func (s *Sampler) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...)
}

// Stop halts the loop and flushes metrics.json.
func (s *Sampler) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	return s.Flush()
}

// Flush writes the series atomically. An empty series still writes a valid
// JSON array.
func (s *Sampler) Flush() error {
	s.mu.Lock()
	samples := append([]Sample(nil), s.samples...)
	s.mu.Unlock()
	if samples == nil {
		samples = []Sample{}
	}
	if err := artifacts.WriteJSONAtomic(s.tree.MetricsJSON(), samples); err != nil {
		s.logger.Error().Err(err).Msg("flushing metrics failed")
		return err
	}
	return nil
}
