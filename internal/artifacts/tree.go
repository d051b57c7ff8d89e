// SPDX-License-Identifier: MIT

// Package artifacts owns the deterministic session directory layout and all
// writes into it. Every JSON artifact is written atomically (temp + fsync +
// rename) so external readers never observe torn files.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Tree is the per-session artifact directory layout:
//
//	<runsDir>/<clientId>/<testId>/<sessionId>/
//	  screenshots/ video/ dom_snapshots/ dom_coords/ pdfs/
//	  commands.json metrics.json status.json session-metadata.json
//	  color-patterns.json latest.jpg latest.md latest.json
type Tree struct {
	RunsDir   string
	ClientID  string
	TestID    string
	SessionID string
}

// NewSessionID produces a filesystem-safe UTC timestamp id, with ':' and '.'
// replaced by '-'.
func NewSessionID(now time.Time) string {
	id := now.UTC().Format("2006-01-02T15:04:05.000Z")
	id = strings.ReplaceAll(id, ":", "-")
	id = strings.ReplaceAll(id, ".", "-")
	return id
}

// NewTree returns the layout for a session triple.
func NewTree(runsDir, clientID, testID, sessionID string) *Tree {
	return &Tree{RunsDir: runsDir, ClientID: clientID, TestID: testID, SessionID: sessionID}
}

// Key returns the "client/test/session" triple as a single string.
func (t *Tree) Key() string {
	return t.ClientID + "/" + t.TestID + "/" + t.SessionID
}

// Root is the session directory.
func (t *Tree) Root() string {
	return filepath.Join(t.RunsDir, t.ClientID, t.TestID, t.SessionID)
}

func (t *Tree) ScreenshotsDir() string  { return filepath.Join(t.Root(), "screenshots") }
func (t *Tree) VideoDir() string        { return filepath.Join(t.Root(), "video") }
func (t *Tree) DomSnapshotsDir() string { return filepath.Join(t.Root(), "dom_snapshots") }
func (t *Tree) DomCoordsDir() string    { return filepath.Join(t.Root(), "dom_coords") }
func (t *Tree) PDFsDir() string         { return filepath.Join(t.Root(), "pdfs") }

func (t *Tree) ClipsDir() string         { return filepath.Join(t.VideoDir(), "clips") }
func (t *Tree) CommandVideosDir() string { return filepath.Join(t.VideoDir(), "command_videos") }
func (t *Tree) CommandGIFsDir() string   { return filepath.Join(t.VideoDir(), "command_gifs") }
func (t *Tree) CommandsTSDir() string    { return filepath.Join(t.VideoDir(), "commands_ts") }

// Init creates every directory of the layout.
func (t *Tree) Init() error {
	dirs := []string{
		t.Root(),
		t.ScreenshotsDir(),
		t.VideoDir(),
		t.DomSnapshotsDir(),
		t.DomCoordsDir(),
		t.PDFsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create session dir %s: %w", d, err)
		}
	}
	return nil
}

// Per-step screenshot paths.

func (t *Tree) PreScreenshot(i int, verb string) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d-pre-%s.jpg", i, SanitizeVerb(verb)))
}

func (t *Tree) PostScreenshot(i int, verb string) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d-post-%s.jpg", i, SanitizeVerb(verb)))
}

func (t *Tree) CanonicalScreenshot(i int) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d.jpg", i))
}

func (t *Tree) Thumbnail(i int) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d_thumb.jpg", i))
}

func (t *Tree) Zoom(i int) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d_zoom.jpg", i))
}

func (t *Tree) RawPostPNG(i int) string {
	return filepath.Join(t.ScreenshotsDir(), fmt.Sprintf("%d_raw.png", i))
}

// DOM artifacts.

func (t *Tree) DomSnapshot(i int) string {
	return filepath.Join(t.DomSnapshotsDir(), fmt.Sprintf("dom_%d.md", i))
}

func (t *Tree) DomCoords(i int) string {
	return filepath.Join(t.DomCoordsDir(), fmt.Sprintf("dom_coords_%d.json", i))
}

func (t *Tree) DomCoordsInitial() string {
	return filepath.Join(t.DomCoordsDir(), "dom_coords_initial.json")
}

// Root-level files.

func (t *Tree) CommandsJSON() string        { return filepath.Join(t.Root(), "commands.json") }
func (t *Tree) MetricsJSON() string         { return filepath.Join(t.Root(), "metrics.json") }
func (t *Tree) StatusJSON() string          { return filepath.Join(t.Root(), "status.json") }
func (t *Tree) SessionMetadataJSON() string { return filepath.Join(t.Root(), "session-metadata.json") }
func (t *Tree) ColorPatternsJSON() string   { return filepath.Join(t.Root(), "color-patterns.json") }
func (t *Tree) LatestJPG() string           { return filepath.Join(t.Root(), "latest.jpg") }
func (t *Tree) LatestMD() string            { return filepath.Join(t.Root(), "latest.md") }
func (t *Tree) LatestJSON() string          { return filepath.Join(t.Root(), "latest.json") }
func (t *Tree) LastCommandIdx() string      { return filepath.Join(t.Root(), "last-command-idx") }

// Video artifacts.

func (t *Tree) RawVideo() string       { return filepath.Join(t.VideoDir(), "session.webm") }
func (t *Tree) SessionMP4() string     { return filepath.Join(t.VideoDir(), "session.mp4") }
func (t *Tree) Session4xMP4() string   { return filepath.Join(t.VideoDir(), "session_4x.mp4") }
func (t *Tree) CoverGIF() string       { return filepath.Join(t.VideoDir(), "cover.gif") }
func (t *Tree) CoverJPG() string       { return filepath.Join(t.VideoDir(), "cover.jpg") }
func (t *Tree) ClipMapping() string    { return filepath.Join(t.VideoDir(), "clip_mapping.json") }
func (t *Tree) TimestampMapping() string {
	return filepath.Join(t.VideoDir(), "timestamp_mapping.json")
}

// PDFPath names an auto-printed PDF with a timestamp.
func (t *Tree) PDFPath(now time.Time) string {
	ts := now.UTC().Format("20060102-150405")
	return filepath.Join(t.PDFsDir(), fmt.Sprintf("rabbitize-%s.pdf", ts))
}

var verbSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// SanitizeVerb strips the leading colon and any filesystem-hostile runes
// from a command verb so it can appear in file names.
func SanitizeVerb(verb string) string {
	v := strings.TrimPrefix(verb, ":")
	v = verbSanitizer.ReplaceAllString(v, "-")
	return strings.Trim(v, "-")
}
