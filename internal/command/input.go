// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"strings"
	"time"
)

const (
	wheelMagnitude  = 100.0
	scrollDownDelay = 200 * time.Millisecond
	scrollUpDelay   = 205 * time.Millisecond
)

// handleScroll emits N discrete wheel events of 100px each. direction is
// +1 for down, -1 for up.
func handleScroll(direction float64) Handler {
	return func(ctx context.Context, rt *Runtime, cmd Command) Result {
		n := 1
		if len(cmd.Args) > 0 {
			v, err := cmd.Int(0)
			if err != nil {
				return Fail(err.Error())
			}
			n = v
		}
		if n < 0 {
			return Failf("%s: count must not be negative, got %d", cmd.Verb, n)
		}
		if n == 0 {
			// Zero repeats is a legitimate no-op step.
			return OK().With("count", 0)
		}
		delay := scrollDownDelay
		if direction < 0 {
			delay = scrollUpDelay
		}
		for i := 0; i < n; i++ {
			if err := rt.Driver.Wheel(0, direction*wheelMagnitude); err != nil {
				return Fail(err.Error()).With("emitted", i)
			}
			sleep(ctx, delay)
		}
		return OK().With("count", n)
	}
}

func handleType(ctx context.Context, rt *Runtime, cmd Command) Result {
	text, err := cmd.String(0)
	if err != nil {
		return Fail(err.Error())
	}
	if err := rt.Driver.TypeText(text); err != nil {
		return Fail(err.Error())
	}
	return OK().With("length", len(text))
}

// handleKeypress accepts a single key name or one MODIFIER-KEY combo.
func handleKeypress(ctx context.Context, rt *Runtime, cmd Command) Result {
	spec, err := cmd.String(0)
	if err != nil {
		return Fail(err.Error())
	}
	if mod, key, ok := splitCombo(spec); ok {
		if err := rt.Driver.KeyCombo(mod, key); err != nil {
			return Fail(err.Error())
		}
		return OK().With("combo", spec)
	}
	if err := rt.Driver.KeyPress(spec); err != nil {
		return Fail(err.Error())
	}
	return OK().With("key", spec)
}

// splitCombo detects MODIFIER-KEY forms like "ctrl-a". A bare hyphen or a
// single-token name is not a combo.
func splitCombo(spec string) (mod, key string, ok bool) {
	i := strings.Index(spec, "-")
	if i <= 0 || i == len(spec)-1 {
		return "", "", false
	}
	mod = spec[:i]
	switch strings.ToLower(mod) {
	case "ctrl", "control", "shift", "alt", "meta", "cmd", "command":
		return mod, spec[i+1:], true
	}
	return "", "", false
}

// handleWait counts down in 100ms ticks, updating the overlay with the
// remaining whole seconds.
func handleWait(ctx context.Context, rt *Runtime, cmd Command) Result {
	seconds, err := cmd.Float(0)
	if err != nil {
		return Fail(err.Error())
	}
	if seconds < 0 {
		return Failf("%s: negative duration", cmd.Verb)
	}
	total := time.Duration(seconds * float64(time.Second))
	start := time.Now()
	lastShown := -1
	for {
		elapsed := time.Since(start)
		if elapsed >= total {
			break
		}
		remaining := int((total - elapsed).Round(time.Second) / time.Second)
		if remaining != lastShown {
			if err := rt.Overlay.ShowCountdown(rt.Driver.Page(), remaining); err != nil {
				rt.Logger.Debug().Err(err).Msg("countdown overlay failed")
			}
			lastShown = remaining
		}
		select {
		case <-ctx.Done():
			return Fail(ctx.Err().Error())
		case <-time.After(100 * time.Millisecond):
		}
	}
	return OK().With("waited_ms", time.Since(start).Milliseconds())
}
