// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rabbitize/rabbitize/internal/browser"
)

func handleNavigate(ctx context.Context, rt *Runtime, cmd Command) Result {
	target, err := cmd.String(0)
	if err != nil {
		return Fail(err.Error())
	}
	timeout := rt.navTimeout()
	navErr := rt.Driver.Navigate(ctx, target, timeout)
	if navErr == nil {
		rt.notifyNavigation()
		return OK().With("url", target)
	}
	if errors.Is(navErr, browser.ErrNavigationTimeout) {
		return navigationTimeoutResult(ctx, rt, target, timeout)
	}
	return Fail(navErr.Error())
}

// navigationTimeoutResult renders the local timeout page so the post-state
// screenshot explains what happened, then reports the soft failure.
func navigationTimeoutResult(ctx context.Context, rt *Runtime, target string, timeout time.Duration) Result {
	secs := int(timeout / time.Second)
	if rt.TimeoutPagePath != "" {
		fileURL := fmt.Sprintf("file://%s?url=%s&timeout=%d%%20seconds",
			rt.TimeoutPagePath, url.QueryEscape(target), secs)
		if err := rt.Driver.Navigate(ctx, fileURL, 10*time.Second); err != nil {
			rt.Logger.Warn().Err(err).Msg("timeout page failed to load")
		}
	}
	rt.Logger.Warn().Str("url", target).Int("timeout_s", secs).Msg("navigation timed out")
	return Result{
		"success":             false,
		"isNavigationTimeout": true,
		"url":                 target,
	}
}

func handleBack(ctx context.Context, rt *Runtime, cmd Command) Result {
	if err := rt.Driver.Back(); err != nil {
		return Fail(err.Error())
	}
	sleep(ctx, 500*time.Millisecond)
	rt.notifyNavigation()
	return OK()
}

func handleForward(ctx context.Context, rt *Runtime, cmd Command) Result {
	if err := rt.Driver.Forward(); err != nil {
		return Fail(err.Error())
	}
	sleep(ctx, 500*time.Millisecond)
	rt.notifyNavigation()
	return OK()
}

// handleViewport applies an integer delta to width or height.
func handleViewport(isWidth bool) Handler {
	return func(ctx context.Context, rt *Runtime, cmd Command) Result {
		delta, err := cmd.Int(0)
		if err != nil {
			return Fail(err.Error())
		}
		dw, dh := 0, 0
		if isWidth {
			dw = delta
		} else {
			dh = delta
		}
		w, h, err := rt.Driver.AdjustViewport(dw, dh)
		if err != nil {
			return Fail(err.Error())
		}
		return OK().With("width", w).With("height", h)
	}
}
