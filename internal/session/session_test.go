// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/command"
	"github.com/rabbitize/rabbitize/internal/config"
	"github.com/rabbitize/rabbitize/internal/queue"
)

func TestWriteTimeoutPage(t *testing.T) {
	root := t.TempDir()
	path, err := writeTimeoutPage(root)
	if err != nil {
		t.Fatalf("write timeout page: %v", err)
	}
	if path != filepath.Join(root, "timeout.html") {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	html := string(data)
	for _, want := range []string{"Navigation timeout", "URLSearchParams", "params.get('url')"} {
		if !strings.Contains(html, want) {
			t.Errorf("timeout page missing %q", want)
		}
	}
}

func TestClassifyResult(t *testing.T) {
	cases := []struct {
		name   string
		result command.Result
		want   stepClass
	}{
		{"success", command.OK(), stepOK},
		{"nav timeout is soft", command.Result{"success": false, "isNavigationTimeout": true}, stepOK},
		{"context destroyed is soft", command.Fail("eval: Cannot find context with specified id"), stepSoftContext},
		{"guid loss is soft", command.Fail("page: no object with guid abc"), stepSoftContext},
		{"plain failure is hard", command.Fail("element not found"), stepError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyResult(tc.result); got != tc.want {
				t.Errorf("classifyResult(%v) = %d, want %d", tc.result, got, tc.want)
			}
		})
	}
}

func TestClickVerbsUseTightZoom(t *testing.T) {
	for _, v := range []string{":click", ":right-click", ":middle-click", ":drag"} {
		if !clickVerbs[v] {
			t.Errorf("%s should use the tight zoom window", v)
		}
	}
	if clickVerbs[":wait"] || clickVerbs[":type"] {
		t.Error("non-pointer verbs must not use the tight zoom window")
	}
}

func TestExecuteBeforeStart(t *testing.T) {
	e := New(config.Defaults(), Deps{})
	if _, err := e.Execute(context.Background(), []any{":click"}); err != ErrNotStarted {
		t.Errorf("execute before start = %v, want ErrNotStarted", err)
	}
	if err := e.End(context.Background(), false); err != ErrNotStarted {
		t.Errorf("end before start = %v, want ErrNotStarted", err)
	}
}

func TestEngineImplementsQueueEngine(t *testing.T) {
	var _ queue.Engine = (*Engine)(nil)
}

func TestEngineReusableAfterReset(t *testing.T) {
	e := New(config.Defaults(), Deps{})
	e.mu.Lock()
	e.started = true
	e.ended = true
	e.commandCounter = 7
	e.errorCount = 2
	e.mu.Unlock()

	e.resetForNextSession()

	if e.Started() {
		t.Error("engine still reports started after reset")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.ended {
		t.Error("lifecycle latches not cleared")
	}
	if e.commandCounter != 0 || e.errorCount != 0 {
		t.Errorf("counters not cleared: commands=%d errors=%d", e.commandCounter, e.errorCount)
	}
}

func TestRecordVideoDecision(t *testing.T) {
	base := config.Defaults()
	withVideo := config.Defaults()
	withVideo.Video.ProcessVideo = true

	cases := []struct {
		name        string
		cfg         config.Config
		testID      string
		interactive bool
		want        bool
	}{
		{"default records", base, "smoke", false, true},
		{"test id opts out", base, "smoke-no-video", false, false},
		{"interactive without video flag skips", base, "smoke", true, false},
		{"interactive with video flag records", withVideo, "smoke", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := recordVideo(tc.cfg, tc.testID, tc.interactive); got != tc.want {
				t.Errorf("recordVideo = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUploadArtifactsMirrorsSummaryFiles(t *testing.T) {
	target := t.TempDir()
	cfg := config.Defaults()
	cfg.RunsDir = t.TempDir()
	cfg.UploadTargets = []string{target}

	e := New(cfg, Deps{})
	tree := artifacts.NewTree(cfg.RunsDir, "client", "test", "2026-01-02T03-04-05-000Z")
	if err := tree.Init(); err != nil {
		t.Fatalf("init tree: %v", err)
	}
	if err := artifacts.WriteJSONAtomic(tree.CommandsJSON(), []artifacts.CommandRecord{}); err != nil {
		t.Fatalf("seed commands: %v", err)
	}
	e.tree = tree

	e.uploadArtifacts()

	mirrored := filepath.Join(target, "client", "test", tree.SessionID, filepath.Base(tree.CommandsJSON()))
	if _, err := os.Stat(mirrored); err != nil {
		t.Errorf("commands.json not mirrored to upload target: %v", err)
	}
}

func TestDomCoordsScriptCoversSelectorGroups(t *testing.T) {
	for _, want := range []string{
		"h1,h2,h3,h4,h5,h6",
		"button,a,select,input,textarea,[role=button]",
		"nav,.nav,.navigation,.menu",
		"article,section,.card,.container,.content",
		"img[alt]",
		"[data-testid],[aria-label]",
		"items.length < 10",
		"elementCount",
	} {
		if !strings.Contains(domCoordsScript, want) {
			t.Errorf("dom coords script missing %q", want)
		}
	}
}
