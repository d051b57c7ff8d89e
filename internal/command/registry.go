// SPDX-License-Identifier: MIT

package command

import (
	"context"

	"github.com/rabbitize/rabbitize/internal/browser"
)

// Handler executes one verb against the runtime.
type Handler func(ctx context.Context, rt *Runtime, cmd Command) Result

// registry maps every known verb to its handler. New verbs register here
// and nowhere else.
var registry = map[string]Handler{
	":navigate": handleNavigate,
	":url":      handleNavigate,
	":back":     handleBack,
	":forward":  handleForward,

	":move-mouse": handleMoveMouse,

	":click":                handleClick(browser.ButtonLeft),
	":right-click":          handleClick(browser.ButtonRight),
	":middle-click":         handleClick(browser.ButtonMiddle),
	":click-hold":           handleHold(browser.ButtonLeft),
	":click-release":        handleRelease(browser.ButtonLeft),
	":right-click-hold":     handleHold(browser.ButtonRight),
	":right-click-release":  handleRelease(browser.ButtonRight),
	":middle-click-hold":    handleHold(browser.ButtonMiddle),
	":middle-click-release": handleRelease(browser.ButtonMiddle),

	":drag":       handleDrag,
	":start-drag": handleStartDrag,
	":end-drag":   handleEndDrag,

	":scroll-wheel-up":   handleScroll(-1),
	":scroll-wheel-down": handleScroll(1),

	":type":     handleType,
	":keypress": handleKeypress,
	":wait":     handleWait,

	":width":  handleViewport(true),
	":height": handleViewport(false),

	":print-pdf":         handlePrintPDF,
	":set-download-path": handleSetDownloadPath,
	":set-upload-file":   handleSetUploadFile,

	":extract":      handleExtract,
	":extract-page": handleExtractPage,
	":rabbit-eyes":  handleRabbitEyes,
}

// Known reports whether verb has a handler.
func Known(verb string) bool {
	_, ok := registry[verb]
	return ok
}

// Verbs lists the registered vocabulary, unordered.
func Verbs() []string {
	out := make([]string, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	return out
}

// Dispatch runs the command. An unregistered verb is a hard failure with no
// state change.
func Dispatch(ctx context.Context, rt *Runtime, cmd Command) Result {
	h, ok := registry[cmd.Verb]
	if !ok {
		return Fail("Unknown command: " + cmd.Verb)
	}
	return h(ctx, rt, cmd)
}
