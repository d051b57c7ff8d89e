// SPDX-License-Identifier: MIT

// Package video runs the post-session ffmpeg pipeline: container
// conversion, cover art, scene-based clip extraction, per-command cuts and
// the 4x speed version. Every stage is best-effort; a failed stage logs and
// the pipeline continues with what it has.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/procgroup"
)

// Encoder abstracts ffmpeg execution so pipeline tests can fake it.
type Encoder interface {
	// Run executes one encode and returns captured stderr.
	Run(ctx context.Context, args []string) (string, error)
}

// FFmpeg shells out to the configured binary.
type FFmpeg struct {
	Bin    string
	logger zerolog.Logger
}

// NewFFmpeg returns an encoder using bin, defaulting to "ffmpeg" on PATH.
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin, logger: log.WithComponent("video")}
}

// Run executes ffmpeg with the given args. stderr is returned even on
// success since ffmpeg reports filter output there.
func (f *FFmpeg) Run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, f.Bin, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := stderr.String()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", f.Bin, strings.Join(args, " "), err, classifyStderr(out))
	}
	return out, nil
}

// classifyStderr extracts the most useful line from ffmpeg's noise.
func classifyStderr(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "":
			continue
		case strings.Contains(line, "No such file"),
			strings.Contains(line, "Invalid data"),
			strings.Contains(line, "Permission denied"),
			strings.Contains(line, "Error"),
			strings.Contains(line, "error"):
			return line
		}
	}
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return "no diagnostic output"
}

var ptsTimeRe = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)

// ParseSceneTimes extracts showinfo pts_time values from scene-detect
// stderr output, in order.
func ParseSceneTimes(stderr string) []float64 {
	matches := ptsTimeRe.FindAllStringSubmatch(stderr, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
