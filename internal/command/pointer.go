// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"time"

	"github.com/rabbitize/rabbitize/internal/browser"
	"github.com/rabbitize/rabbitize/internal/overlay"
)

const (
	// moveSteps spreads pointer travel across incremental events so the
	// recording shows a path instead of a jump.
	moveSteps = 30

	clickPressDelay = 150 * time.Millisecond
	clickTotalDelay = 850 * time.Millisecond
)

// hoverStateScript classifies the element under a point for the sprite
// color: green over links and pointer cursors, blue over draggables.
const hoverStateScript = `(x, y) => {
  const el = document.elementFromPoint(x, y);
  if (!el) { return 'idle'; }
  const style = window.getComputedStyle(el);
  const cur = style.cursor || '';
  if (el.closest('a') || cur === 'pointer') { return 'link'; }
  if (cur === 'grab' || cur === 'grabbing' || cur === 'move' ||
      cur.endsWith('-resize') || cur === 'all-scroll') { return 'draggable'; }
  return 'idle';
}`

// moveTo animates the sprite, walks the real pointer over in moveSteps
// increments, updates runtime pointer state and applies hover coloring.
func moveTo(ctx context.Context, rt *Runtime, x, y float64) error {
	page := rt.Driver.Page()
	if err := rt.Overlay.MoveCursor(page, x, y); err != nil {
		rt.Logger.Debug().Err(err).Msg("cursor sprite move failed")
	}
	if err := rt.Driver.MoveMouse(rt.MouseX, rt.MouseY, x, y, moveSteps); err != nil {
		return err
	}
	rt.MouseX, rt.MouseY = x, y

	if rt.IsDragging {
		return nil // keep the dragging sprite
	}
	state := overlay.CursorIdle
	if v, err := rt.Driver.Eval(hoverStateScript, x, y); err == nil {
		switch v.Str() {
		case "link":
			state = overlay.CursorHoverLink
		case "draggable":
			state = overlay.CursorHoverDrag
		}
	}
	if err := rt.Overlay.SetCursorState(page, state); err != nil {
		rt.Logger.Debug().Err(err).Msg("cursor state update failed")
	}
	return nil
}

func handleMoveMouse(ctx context.Context, rt *Runtime, cmd Command) Result {
	// Form is [":move-mouse", ":to", X, Y].
	if s, err := cmd.String(0); err != nil || s != ":to" {
		return Failf("%s: expected :to X Y", cmd.Verb)
	}
	x, err := cmd.Float(1)
	if err != nil {
		return Fail(err.Error())
	}
	y, err := cmd.Float(2)
	if err != nil {
		return Fail(err.Error())
	}
	if err := moveTo(ctx, rt, x, y); err != nil {
		return Fail(err.Error())
	}
	return OK().With("x", x).With("y", y)
}

func pressState(button browser.MouseButton) overlay.CursorState {
	switch button {
	case browser.ButtonRight:
		return overlay.CursorRightDown
	case browser.ButtonMiddle:
		return overlay.CursorMiddleDown
	default:
		return overlay.CursorDown
	}
}

// handleClick builds the full click choreography for one button: intensify
// the sprite, pause so the press reads on video, click, ripple, reset.
func handleClick(button browser.MouseButton) Handler {
	return func(ctx context.Context, rt *Runtime, cmd Command) Result {
		page := rt.Driver.Page()
		if err := rt.Overlay.SetCursorState(page, pressState(button)); err != nil {
			rt.Logger.Debug().Err(err).Msg("press sprite failed")
		}
		sleep(ctx, clickPressDelay)

		if err := rt.Driver.Click(button); err != nil {
			rt.Overlay.SetCursorState(page, overlay.CursorIdle)
			return Fail(err.Error())
		}
		if err := rt.Overlay.Ripple(page); err != nil {
			rt.Logger.Debug().Err(err).Msg("ripple failed")
		}
		rt.Overlay.SetCursorState(page, overlay.CursorIdle)
		sleep(ctx, clickTotalDelay-clickPressDelay)
		return OK().With("button", string(button))
	}
}

func holdFlag(rt *Runtime, button browser.MouseButton) *bool {
	switch button {
	case browser.ButtonRight:
		return &rt.IsRightMouseDown
	case browser.ButtonMiddle:
		return &rt.IsMiddleMouseDown
	default:
		return &rt.IsMouseDown
	}
}

func handleHold(button browser.MouseButton) Handler {
	return func(ctx context.Context, rt *Runtime, cmd Command) Result {
		if err := rt.Driver.MouseDown(button); err != nil {
			return Fail(err.Error())
		}
		*holdFlag(rt, button) = true
		rt.Overlay.SetCursorState(rt.Driver.Page(), pressState(button))
		return OK().With("button", string(button)).With("held", true)
	}
}

func handleRelease(button browser.MouseButton) Handler {
	return func(ctx context.Context, rt *Runtime, cmd Command) Result {
		flag := holdFlag(rt, button)
		if !*flag {
			rt.Logger.Warn().Str("button", string(button)).Msg("release without matching hold")
			return OK().With("warning", "release without matching hold")
		}
		if err := rt.Driver.MouseUp(button); err != nil {
			return Fail(err.Error())
		}
		*flag = false
		rt.Overlay.SetCursorState(rt.Driver.Page(), overlay.CursorIdle)
		return OK().With("button", string(button)).With("held", false)
	}
}

// handleDrag is the one-shot form: move, press, move, release.
func handleDrag(ctx context.Context, rt *Runtime, cmd Command) Result {
	coords, res := dragCoords(cmd, ":from", ":to")
	if res != nil {
		return res
	}
	if err := moveTo(ctx, rt, coords[0], coords[1]); err != nil {
		return Fail(err.Error())
	}
	if err := rt.Driver.MouseDown(browser.ButtonLeft); err != nil {
		return Fail(err.Error())
	}
	rt.Overlay.SetCursorState(rt.Driver.Page(), overlay.CursorDragging)
	rt.IsDragging = true

	if err := moveTo(ctx, rt, coords[2], coords[3]); err != nil {
		rt.Driver.MouseUp(browser.ButtonLeft)
		rt.IsDragging = false
		return Fail(err.Error())
	}
	if err := rt.Driver.MouseUp(browser.ButtonLeft); err != nil {
		rt.IsDragging = false
		return Fail(err.Error())
	}
	rt.IsDragging = false
	rt.Overlay.SetCursorState(rt.Driver.Page(), overlay.CursorIdle)
	return OK()
}

func handleStartDrag(ctx context.Context, rt *Runtime, cmd Command) Result {
	if s, err := cmd.String(0); err != nil || s != ":from" {
		return Failf("%s: expected :from X Y", cmd.Verb)
	}
	x, err := cmd.Float(1)
	if err != nil {
		return Fail(err.Error())
	}
	y, err := cmd.Float(2)
	if err != nil {
		return Fail(err.Error())
	}
	if err := moveTo(ctx, rt, x, y); err != nil {
		return Fail(err.Error())
	}
	if err := rt.Driver.MouseDown(browser.ButtonLeft); err != nil {
		return Fail(err.Error())
	}
	rt.IsDragging = true
	rt.Overlay.SetCursorState(rt.Driver.Page(), overlay.CursorDragging)
	return OK().With("dragging", true)
}

func handleEndDrag(ctx context.Context, rt *Runtime, cmd Command) Result {
	if s, err := cmd.String(0); err != nil || s != ":from" {
		return Failf("%s: expected :from X Y", cmd.Verb)
	}
	x, err := cmd.Float(1)
	if err != nil {
		return Fail(err.Error())
	}
	y, err := cmd.Float(2)
	if err != nil {
		return Fail(err.Error())
	}
	if !rt.IsDragging {
		rt.Logger.Warn().Msg("end-drag without an active drag")
		return OK().With("warning", "no active drag")
	}
	if err := moveTo(ctx, rt, x, y); err != nil {
		return Fail(err.Error())
	}
	if err := rt.Driver.MouseUp(browser.ButtonLeft); err != nil {
		rt.IsDragging = false
		return Fail(err.Error())
	}
	rt.IsDragging = false
	rt.Overlay.SetCursorState(rt.Driver.Page(), overlay.CursorIdle)
	return OK().With("dragging", false)
}

// dragCoords parses [":drag", ":from", X1, Y1, ":to", X2, Y2].
func dragCoords(cmd Command, fromKw, toKw string) ([4]float64, Result) {
	var c [4]float64
	if s, err := cmd.String(0); err != nil || s != fromKw {
		return c, Failf("%s: expected %s X1 Y1 %s X2 Y2", cmd.Verb, fromKw, toKw)
	}
	if s, err := cmd.String(3); err != nil || s != toKw {
		return c, Failf("%s: expected %s X1 Y1 %s X2 Y2", cmd.Verb, fromKw, toKw)
	}
	for i, pos := range []int{1, 2, 4, 5} {
		v, err := cmd.Float(pos)
		if err != nil {
			return c, Fail(err.Error())
		}
		c[i] = v
	}
	return c, nil
}

// sleep waits respecting cancellation.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
