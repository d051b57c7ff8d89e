// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/browser"
	"github.com/rabbitize/rabbitize/internal/platform/fs"
)

// handlePrintPDF renders the page to PDF. MODE=dialog invokes the in-page
// print dialog; MODE=auto writes pdfs/rabbitize-<ts>.pdf directly.
func handlePrintPDF(ctx context.Context, rt *Runtime, cmd Command) Result {
	mode, err := cmd.String(0)
	if err != nil {
		return Fail(err.Error())
	}
	switch mode {
	case "dialog":
		if _, err := rt.Driver.Eval(`() => window.print()`); err != nil {
			return Fail(err.Error())
		}
		return OK().With("mode", "dialog")
	case "auto":
	default:
		return Failf("%s: mode must be dialog or auto, got %q", cmd.Verb, mode)
	}

	format := "A4"
	if len(cmd.Args) > 1 {
		if f, err := cmd.String(1); err == nil {
			format = f
		}
	}
	landscape := false
	if len(cmd.Args) > 2 {
		if o, err := cmd.String(2); err == nil {
			landscape = o == "landscape"
		}
	}

	data, err := rt.Driver.PDF(browser.PDFOptions{Format: format, Landscape: landscape})
	if err != nil {
		return Fail(err.Error())
	}
	path := rt.Tree.PDFPath(time.Now().UTC())
	if err := artifacts.WriteFileAtomic(path, data); err != nil {
		return Fail(err.Error())
	}
	return OK().With("mode", "auto").With("path", path).With("bytes", len(data))
}

// handleSetDownloadPath creates the directory and routes browser downloads
// into it for the rest of the session. Finished downloads are additionally
// copied into the session root.
func handleSetDownloadPath(ctx context.Context, rt *Runtime, cmd Command) Result {
	p, err := cmd.String(0)
	if err != nil {
		return Fail(err.Error())
	}
	if !filepath.IsAbs(p) {
		cwd, err := os.Getwd()
		if err != nil {
			return Fail(err.Error())
		}
		p = filepath.Join(cwd, p)
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return Failf("%s: create %s: %v", cmd.Verb, p, err)
	}
	tree := rt.Tree
	logger := rt.Logger
	onDone := func(path string) {
		if tree == nil {
			return
		}
		copied, err := artifacts.CopyFile(path, tree.Root())
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("copying download into session failed")
			return
		}
		logger.Info().Str("file", copied).Msg("download copied into session")
	}
	if err := rt.Driver.SetDownloadDir(p, onDone); err != nil {
		return Fail(err.Error())
	}
	return OK().With("path", p)
}

// handleSetUploadFile validates the files and arms the single-shot file
// chooser handler.
func handleSetUploadFile(ctx context.Context, rt *Runtime, cmd Command) Result {
	if len(cmd.Args) == 0 {
		return Failf("%s: at least one file required", cmd.Verb)
	}
	files := make([]string, 0, len(cmd.Args))
	for i := range cmd.Args {
		p, err := cmd.String(i)
		if err != nil {
			return Fail(err.Error())
		}
		if !filepath.IsAbs(p) {
			cwd, err := os.Getwd()
			if err != nil {
				return Fail(err.Error())
			}
			p = filepath.Join(cwd, p)
		}
		if err := fs.IsRegularFile(p); err != nil {
			return Failf("%s: %s is not a usable upload file: %v", cmd.Verb, p, err)
		}
		files = append(files, p)
	}
	logger := rt.Logger
	rt.Driver.ArmFileChooser(files, func() {
		logger.Warn().Msg("file chooser opened but nothing was armed")
	})
	return OK().With("files", files).With("armed", true)
}
