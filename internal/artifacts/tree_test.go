// SPDX-License-Identifier: MIT

package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewSessionIDIsFilesystemSafe(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 30, 45, 123_000_000, time.UTC)
	id := NewSessionID(ts)
	if strings.ContainsAny(id, ":.") {
		t.Fatalf("session id contains forbidden runes: %q", id)
	}
	if id != "2026-08-24T10-30-45-123Z" {
		t.Fatalf("unexpected session id: %q", id)
	}
}

func TestSanitizeVerb(t *testing.T) {
	cases := map[string]string{
		":move-mouse":  "move-mouse",
		":click":       "click",
		":print-pdf":   "print-pdf",
		":rabbit-eyes": "rabbit-eyes",
		":url":         "url",
	}
	for in, want := range cases {
		if got := SanitizeVerb(in); got != want {
			t.Errorf("SanitizeVerb(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTreeLayout(t *testing.T) {
	tree := NewTree(t.TempDir(), "acme", "checkout", "2026-01-02T03-04-05-678Z")
	if err := tree.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, dir := range []string{
		tree.ScreenshotsDir(), tree.VideoDir(), tree.DomSnapshotsDir(),
		tree.DomCoordsDir(), tree.PDFsDir(),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s, err=%v", dir, err)
		}
	}

	if got := filepath.Base(tree.PreScreenshot(3, ":click")); got != "3-pre-click.jpg" {
		t.Errorf("pre screenshot name: %s", got)
	}
	if got := filepath.Base(tree.Zoom(3)); got != "3_zoom.jpg" {
		t.Errorf("zoom name: %s", got)
	}
	if got := filepath.Base(tree.DomCoords(0)); got != "dom_coords_0.json" {
		t.Errorf("dom coords name: %s", got)
	}
}

func TestCommandLogAppendKeepsValidJSON(t *testing.T) {
	tree := NewTree(t.TempDir(), "c", "t", "s")
	if err := tree.Init(); err != nil {
		t.Fatal(err)
	}
	logx := NewCommandLog(tree)

	for i := 0; i < 3; i++ {
		rec := CommandRecord{
			Index:     i,
			Command:   []string{":click"},
			Timestamp: int64(1000 + i),
			Status:    StatusDone,
		}
		if err := logx.Append(rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}

		data, err := os.ReadFile(tree.CommandsJSON())
		if err != nil {
			t.Fatalf("read commands.json: %v", err)
		}
		var got []CommandRecord
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("commands.json invalid after append %d: %v", i, err)
		}
		if len(got) != i+1 {
			t.Fatalf("expected %d records, got %d", i+1, len(got))
		}
	}

	// indices are 0..N-1, strictly increasing, no gaps
	recs := logx.Records()
	for i, r := range recs {
		if r.Index != i {
			t.Errorf("record %d has index %d", i, r.Index)
		}
	}

	sentinel, err := os.ReadFile(tree.LastCommandIdx())
	if err != nil {
		t.Fatalf("sentinel: %v", err)
	}
	if string(sentinel) != "2" {
		t.Errorf("sentinel = %q, want 2", sentinel)
	}
}

func TestStatusWriterAtomicAndMonotonic(t *testing.T) {
	tree := NewTree(t.TempDir(), "c", "t", "s")
	if err := tree.Init(); err != nil {
		t.Fatal(err)
	}
	w := NewStatusWriter(tree, Status{Phase: "initializing", Port: 8080})

	phases := []string{"initializing", "running_commands", "ending_session", "complete"}
	for _, p := range phases {
		if err := w.SetPhase(p); err != nil {
			t.Fatalf("set phase %s: %v", p, err)
		}
		data, err := os.ReadFile(tree.StatusJSON())
		if err != nil {
			t.Fatalf("read status.json: %v", err)
		}
		var got Status
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("status.json invalid at phase %s: %v", p, err)
		}
		if got.Phase != p {
			t.Errorf("phase = %q, want %q", got.Phase, p)
		}
		if got.PID == 0 {
			t.Error("pid not recorded")
		}
	}
}

func TestSummaryLine(t *testing.T) {
	line, err := SummaryLine(ExecutionSummary{ClientID: "c", CommandsExecuted: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "EXECUTION_SUMMARY={") {
		t.Errorf("unexpected summary line: %s", line)
	}
	var parsed ExecutionSummary
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "EXECUTION_SUMMARY=")), &parsed); err != nil {
		t.Fatalf("summary payload invalid: %v", err)
	}
	if parsed.CommandsExecuted != 4 {
		t.Errorf("commandsExecuted = %d", parsed.CommandsExecuted)
	}
}
