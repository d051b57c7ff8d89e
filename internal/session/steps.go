// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/browser"
	"github.com/rabbitize/rabbitize/internal/command"
	"github.com/rabbitize/rabbitize/internal/metrics"
	"github.com/rabbitize/rabbitize/internal/stability"
)

const postScreenshotQuality = 60

// clickVerbs get the tighter zoom window on the step images.
var clickVerbs = map[string]bool{
	":click":        true,
	":right-click":  true,
	":middle-click": true,
	":drag":         true,
	":start-drag":   true,
	":end-drag":     true,
}

// Execute runs one command through the full step loop. The returned map is
// the step output; a non-nil error signals a hard failure that clears the
// queue.
func (e *Engine) Execute(ctx context.Context, raw []any) (map[string]any, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	if e.ended {
		e.mu.Unlock()
		return nil, ErrEnded
	}
	e.resetInactivityLocked()
	index := e.commandCounter
	e.mu.Unlock()

	cmd, err := command.Parse(raw)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	if !command.Known(cmd.Verb) {
		// Hard rejection with no state change: nothing recorded, counter
		// untouched.
		return map[string]any{"success": false, "error": "Unknown command: " + cmd.Verb}, nil
	}

	rec, result := e.runStep(ctx, index, cmd)

	outcome := "success"
	if !result.Success() {
		outcome = "failure"
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Verb, outcome).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Verb).Observe(float64(rec.Duration) / 1000)

	if rec.Status == artifacts.StatusError {
		e.mu.Lock()
		e.errorCount++
		e.mu.Unlock()
		msg, _ := result["error"].(string)
		return map[string]any{"success": false, "error": msg, "commandIndex": index},
			fmt.Errorf("command %d (%s) failed: %s", index, cmd.Verb, msg)
	}
	return map[string]any(result), nil
}

// runStep performs the ordered per-command step loop and persists the
// record. Artifact failures warn and continue; they never abort a step.
func (e *Engine) runStep(ctx context.Context, index int, cmd command.Command) (artifacts.CommandRecord, command.Result) {
	verb := cmd.Verb
	page := e.driver.Page()
	wire := cmd.Strings()

	e.status.Update(func(s *artifacts.Status) {
		s.CurrentCommand = wire
		s.CurrentCommandIndex = index
		s.CommandCount++
	})
	e.sink.Record(e.tree.Key(), "command_start", map[string]any{"index": index, "command": wire})

	// Overlay: announce the command and mark the pre-command corner.
	e.surface.ShowCommand(page, wire)
	e.surface.PaintCornerRed(page)

	// Pre-state capture.
	e.sampler.SetCurrentCommand(index, verb, strings.Join(wire, " "))
	if pre, err := e.driver.ScreenshotJPEG(postScreenshotQuality); err == nil {
		e.writeArtifact(e.tree.PreScreenshot(index, verb), pre)
		e.writeArtifact(e.tree.LatestJPG(), pre)
	} else {
		e.logger.Warn().Err(err).Int("index", index).Msg("pre screenshot failed")
	}
	startMS := time.Now().UnixMilli()

	e.surface.PaintCornerPattern(page, verb)

	// Dispatch.
	e.rt.CommandIndex = index
	result := command.Dispatch(ctx, e.rt, cmd)

	e.surface.PaintCornerBlack(page)

	// Stability wait is advisory.
	if _, err := e.detector.Wait(ctx); err != nil {
		if errors.Is(err, stability.ErrTimeout) {
			metrics.StabilityTimeouts.Inc()
			e.logger.Info().Int("index", index).Msg("stability wait timed out")
		} else if !errors.Is(err, context.Canceled) {
			e.logger.Debug().Err(err).Msg("stability wait error")
		}
	}

	// Post-state capture, derived images, DOM artifacts.
	rawPNG, pngErr := e.driver.ScreenshotPNG()
	if post, err := e.driver.ScreenshotJPEG(postScreenshotQuality); err == nil {
		e.writeArtifact(e.tree.PostScreenshot(index, verb), post)
		e.writeArtifact(e.tree.LatestJPG(), post)
	}
	e.captureStepDOM(index)
	if pngErr == nil {
		if err := e.tree.DeriveStepImages(index, rawPNG, e.rt.MouseX, e.rt.MouseY, clickVerbs[verb]); err != nil {
			metrics.ArtifactWriteFailures.Inc()
			e.logger.Warn().Err(err).Int("index", index).Msg("step image derivation failed")
		}
	} else if !browser.IsContextDestroyed(pngErr) {
		e.logger.Warn().Err(pngErr).Int("index", index).Msg("post png failed")
	}
	e.sampler.ClearCurrentCommand()

	endMS := time.Now().UnixMilli()
	rec := artifacts.CommandRecord{
		Index:        index,
		Command:      wire,
		Timestamp:    startMS,
		EndTimestamp: endMS,
		Duration:     endMS - startMS,
		Output:       map[string]any(result),
	}

	switch classifyResult(result) {
	case stepSoftContext:
		// The context died under us, usually a navigation the command
		// triggered. Report success but do not advance the counter.
		rec.Status = artifacts.StatusDone
		result = command.OK().With("contextChanged", true)
		rec.Output = map[string]any(result)
		e.appendRecord(rec)
		e.detector.NotifyNavigation()
	case stepError:
		rec.Status = artifacts.StatusError
		e.appendRecord(rec)
	default:
		rec.Status = artifacts.StatusDone
		e.appendRecord(rec)
		e.mu.Lock()
		e.commandCounter++
		e.mu.Unlock()
	}

	e.status.Update(func(s *artifacts.Status) {
		s.CurrentCommand = nil
		s.CommandsExecuted = e.CommandCounter()
	})
	e.sink.Record(e.tree.Key(), "command_done", map[string]any{
		"index": index, "status": string(rec.Status), "durationMs": rec.Duration,
	})
	e.eyes.Notify(context.Background(), rabbitEyesCommandEvent(e, index, wire, result.Success()))

	return rec, result
}

type stepClass int

const (
	stepOK stepClass = iota
	stepSoftContext
	stepError
)

// classifyResult applies the error taxonomy to a dispatch result: context
// loss is soft, navigation timeouts and warnings are recorded successes,
// anything else failing is hard.
func classifyResult(r command.Result) stepClass {
	if r.Success() {
		return stepOK
	}
	if soft, _ := r["isNavigationTimeout"].(bool); soft {
		return stepOK
	}
	if msg, _ := r["error"].(string); msg != "" {
		if browser.IsContextDestroyed(errors.New(msg)) {
			return stepSoftContext
		}
	}
	return stepError
}

func (e *Engine) appendRecord(rec artifacts.CommandRecord) {
	if err := e.cmdLog.Append(rec); err != nil {
		metrics.ArtifactWriteFailures.Inc()
		e.logger.Warn().Err(err).Int("index", rec.Index).Msg("command record write failed")
	}
}

func (e *Engine) writeArtifact(path string, data []byte) {
	if err := artifacts.WriteFileAtomic(path, data); err != nil {
		metrics.ArtifactWriteFailures.Inc()
		e.logger.Warn().Err(err).Str("path", path).Msg("artifact write failed")
	}
}

// captureStepDOM writes the per-step coordinate map and text snapshot, each
// mirrored to its latest.* alias.
func (e *Engine) captureStepDOM(index int) {
	if coords, err := e.captureDOMCoords(); err == nil {
		if err := artifacts.WriteJSONAtomic(e.tree.DomCoords(index), coords); err == nil {
			e.writeArtifactJSON(e.tree.LatestJSON(), coords)
		} else {
			metrics.ArtifactWriteFailures.Inc()
			e.logger.Warn().Err(err).Msg("dom coords write failed")
		}
	} else if !browser.IsContextDestroyed(err) {
		e.logger.Debug().Err(err).Msg("dom coords capture failed")
	}

	if v, err := e.driver.Eval(command.PageMarkdownScript); err == nil {
		md := []byte(v.Str())
		e.writeArtifact(e.tree.DomSnapshot(index), md)
		e.writeArtifact(e.tree.LatestMD(), md)
	} else if !browser.IsContextDestroyed(err) {
		e.logger.Debug().Err(err).Msg("dom snapshot capture failed")
	}
}

func (e *Engine) writeArtifactJSON(path string, v any) {
	if err := artifacts.WriteJSONAtomic(path, v); err != nil {
		metrics.ArtifactWriteFailures.Inc()
		e.logger.Warn().Err(err).Str("path", path).Msg("artifact write failed")
	}
}

// captureDOMCoords evaluates the curated-selector capture in the page.
func (e *Engine) captureDOMCoords() (any, error) {
	v, err := e.driver.Eval(domCoordsScript)
	if err != nil {
		return nil, err
	}
	return v.Val(), nil
}
