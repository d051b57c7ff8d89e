// SPDX-License-Identifier: MIT

package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/procgroup"
)

// finalizeGrace bounds how long Stop waits for ffmpeg to flush the
// container after stdin closes.
const finalizeGrace = 30 * time.Second

// RecorderOptions configures the screencast capture pipeline.
type RecorderOptions struct {
	FFmpegBin string
	OutPath   string
	Width     int
	Height    int

	// FrameRate is the nominal input rate fed to the encoder. The browser
	// only emits frames on visual change, so this sets the playback clock.
	FrameRate int

	// Quality is the JPEG quality of screencast frames.
	Quality int
}

// Recorder pipes CDP screencast frames into a long-running ffmpeg process
// that encodes them to WebM. Frames arrive as JPEG, so the pipe speaks
// image2pipe. Stop finalizes the file; losing frames is acceptable, losing
// the session is not, so every failure path degrades to a warning.
type Recorder struct {
	page         *rod.Page
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	cancelEvents context.CancelFunc
	logger       zerolog.Logger

	mu     sync.Mutex
	closed bool
	frames int
}

// StartRecorder begins the screencast and spawns ffmpeg. The caller must
// Stop the recorder before reading the output file.
func StartRecorder(ctx context.Context, page *rod.Page, opts RecorderOptions) (*Recorder, error) {
	if opts.FFmpegBin == "" {
		opts.FFmpegBin = "ffmpeg"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 10
	}
	if opts.Quality <= 0 {
		opts.Quality = 80
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutPath), 0o755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, opts.FFmpegBin, recorderArgs(opts)...)
	procgroup.Set(cmd)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	r := &Recorder{
		page:   page,
		cmd:    cmd,
		stdin:  stdin,
		logger: log.WithComponent("recorder"),
	}

	err = (proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &opts.Quality,
		MaxWidth:      &opts.Width,
		MaxHeight:     &opts.Height,
	}).Call(page)
	if err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	evCtx, cancel := context.WithCancel(ctx)
	r.cancelEvents = cancel
	go page.Context(evCtx).EachEvent(func(e *proto.PageScreencastFrame) {
		r.writeFrame(e)
	})()

	r.logger.Info().Str("out", opts.OutPath).Int("fps", opts.FrameRate).Msg("screencast recorder started")
	return r, nil
}

// recorderArgs builds the image2pipe to WebM encode command.
func recorderArgs(opts RecorderOptions) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", strconv.Itoa(opts.FrameRate),
		"-i", "-",
		"-c:v", "libvpx",
		"-b:v", "1M",
		"-crf", "10",
		// screencast frames can carry odd dimensions
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-an",
		opts.OutPath,
	}
}

func (r *Recorder) writeFrame(e *proto.PageScreencastFrame) {
	ackErr := (proto.PageScreencastFrameAck{SessionID: e.SessionID}).Call(r.page)
	if ackErr != nil {
		r.logger.Debug().Err(ackErr).Msg("screencast ack failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, err := r.stdin.Write(e.Data); err != nil {
		r.logger.Warn().Err(err).Msg("writing frame to encoder failed, stopping capture")
		r.closed = true
		return
	}
	r.frames++
}

// FrameCount reports frames delivered to the encoder so far.
func (r *Recorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Stop ends the screencast, closes the encoder's stdin and waits for ffmpeg
// to finalize the container.
func (r *Recorder) Stop() error {
	if err := (proto.PageStopScreencast{}).Call(r.page); err != nil {
		r.logger.Debug().Err(err).Msg("stop screencast failed")
	}
	if r.cancelEvents != nil {
		r.cancelEvents()
	}

	r.mu.Lock()
	alreadyClosed := r.closed
	r.closed = true
	frames := r.frames
	r.mu.Unlock()

	if !alreadyClosed {
		if err := r.stdin.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("closing encoder stdin failed")
		}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- r.cmd.Wait() }()
	var err error
	select {
	case err = <-waitCh:
	case <-time.After(finalizeGrace):
		r.logger.Warn().Msg("encoder did not finalize in time, reaping process group")
		err = procgroup.Terminate(r.cmd, waitCh, 5*time.Second)
	}
	if err != nil {
		return fmt.Errorf("ffmpeg exited with error after %d frames: %w", frames, err)
	}
	r.logger.Info().Int("frames", frames).Msg("screencast recorder stopped")
	return nil
}
