// SPDX-License-Identifier: MIT

// Package command implements the verb vocabulary of the session engine.
// Each verb is a Handler dispatched by the registry; handlers receive a
// Runtime carrying the browser, overlay and per-session pointer state the
// engine owns.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/browser"
	"github.com/rabbitize/rabbitize/internal/overlay"
)

// Command is one parsed instruction, e.g. [":move-mouse", ":to", 400, 300].
type Command struct {
	Verb string
	Args []any
}

// Parse validates the raw JSON array form. The first element must be a
// string verb with a leading colon.
func Parse(raw []any) (Command, error) {
	if len(raw) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	verb, ok := raw[0].(string)
	if !ok {
		return Command{}, fmt.Errorf("command verb must be a string, got %T", raw[0])
	}
	if !strings.HasPrefix(verb, ":") {
		return Command{}, fmt.Errorf("command verb %q must start with a colon", verb)
	}
	return Command{Verb: verb, Args: raw[1:]}, nil
}

// Strings renders the command back to its wire form for logs and overlays.
func (c Command) Strings() []string {
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Verb)
	for _, a := range c.Args {
		out = append(out, fmt.Sprint(a))
	}
	return out
}

// Float reads a numeric argument. JSON numbers arrive as float64 but tests
// and batch files may carry ints.
func (c Command) Float(i int) (float64, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("%s: missing argument %d", c.Verb, i)
	}
	switch v := c.Args[i].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%s: argument %d is %T, want number", c.Verb, i, c.Args[i])
}

// Int reads an integer argument.
func (c Command) Int(i int) (int, error) {
	f, err := c.Float(i)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String reads a string argument.
func (c Command) String(i int) (string, error) {
	if i >= len(c.Args) {
		return "", fmt.Errorf("%s: missing argument %d", c.Verb, i)
	}
	s, ok := c.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d is %T, want string", c.Verb, i, c.Args[i])
	}
	return s, nil
}

// Result is the step output stored in the command record.
type Result map[string]any

// OK returns a success result.
func OK() Result { return Result{"success": true} }

// Fail returns a failure result with an error message.
func Fail(msg string) Result { return Result{"success": false, "error": msg} }

// Failf formats a failure result.
func Failf(format string, args ...any) Result { return Fail(fmt.Sprintf(format, args...)) }

// With adds a field and returns the result for chaining.
func (r Result) With(key string, value any) Result {
	r[key] = value
	return r
}

// Success reports the success flag.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// VisionClient answers a prompt about a screenshot. Implemented by the
// rabbiteyes package; faked in tests.
type VisionClient interface {
	Ask(ctx context.Context, prompt string, imageJPEG []byte) (string, error)
}

// Runtime is the mutable per-session state handlers operate on. The queue
// consumer is the only goroutine touching it, so no locking.
type Runtime struct {
	Driver  *browser.Driver
	Overlay *overlay.Surface
	Tree    *artifacts.Tree
	Vision  VisionClient
	Logger  zerolog.Logger

	// Pointer state, initialized to viewport center.
	MouseX float64
	MouseY float64

	IsDragging        bool
	IsMouseDown       bool
	IsRightMouseDown  bool
	IsMiddleMouseDown bool

	// CommandIndex is set by the engine before each dispatch.
	CommandIndex int

	NavTimeout      time.Duration
	TimeoutPagePath string

	// OnNavigate fires after any successful main-frame navigation so the
	// engine can re-enable stability detection.
	OnNavigate func()
}

// Page is a convenience accessor used by eval-based handlers.
func (rt *Runtime) navTimeout() time.Duration {
	if rt.NavTimeout > 0 {
		return rt.NavTimeout
	}
	return 60 * time.Second
}

func (rt *Runtime) notifyNavigation() {
	if rt.OnNavigate != nil {
		rt.OnNavigate()
	}
}
