// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/metrics"
	"github.com/rabbitize/rabbitize/internal/platform/fs"
)

// sessionEntry is one row of the cross-session index.
type sessionEntry struct {
	ClientID  string                     `json:"clientId"`
	TestID    string                     `json:"testId"`
	SessionID string                     `json:"sessionId"`
	Status    *artifacts.Status          `json:"status,omitempty"`
	Metadata  *artifacts.SessionMetadata `json:"metadata,omitempty"`
}

// handleSessions walks runsDir and reports every session that has a
// status.json or session-metadata.json.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	entries := []sessionEntry{}

	clients, err := os.ReadDir(s.runsDir)
	if err != nil {
		// An absent runs dir simply means no sessions yet.
		s.writeJSON(w, http.StatusOK, entries)
		return
	}
	for _, client := range clients {
		if !client.IsDir() {
			continue
		}
		tests, err := os.ReadDir(filepath.Join(s.runsDir, client.Name()))
		if err != nil {
			continue
		}
		for _, test := range tests {
			if !test.IsDir() {
				continue
			}
			sessions, err := os.ReadDir(filepath.Join(s.runsDir, client.Name(), test.Name()))
			if err != nil {
				continue
			}
			for _, sess := range sessions {
				if !sess.IsDir() {
					continue
				}
				tree := artifacts.NewTree(s.runsDir, client.Name(), test.Name(), sess.Name())
				entry := sessionEntry{
					ClientID:  client.Name(),
					TestID:    test.Name(),
					SessionID: sess.Name(),
				}
				var status artifacts.Status
				if readJSONFile(tree.StatusJSON(), &status) == nil {
					entry.Status = &status
				}
				var meta artifacts.SessionMetadata
				if readJSONFile(tree.SessionMetadataJSON(), &meta) == nil {
					entry.Metadata = &meta
				}
				if entry.Status != nil || entry.Metadata != nil {
					entries = append(entries, entry)
				}
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SessionID > entries[j].SessionID
	})
	s.writeJSON(w, http.StatusOK, entries)
}

// timingEntry is one row of a session's timingData.
type timingEntry struct {
	Command       []string `json:"command"`
	RelativeStart int64    `json:"relativeStart"`
	Duration      int64    `json:"duration"`
	GapBefore     int64    `json:"gapBefore"`
}

// sessionTree confines the URL triple and returns the tree, or writes the
// error response itself.
func (s *Server) sessionTree(w http.ResponseWriter, r *http.Request) (*artifacts.Tree, bool) {
	client := chi.URLParam(r, "client")
	test := chi.URLParam(r, "test")
	session := chi.URLParam(r, "session")

	root, err := fs.ConfineRelPath(s.runsDir, filepath.Join(client, test, session))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session path")
		return nil, false
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return artifacts.NewTree(s.runsDir, client, test, session), true
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.sessionTree(w, r)
	if !ok {
		return
	}
	var records []artifacts.CommandRecord
	if err := readJSONFile(tree.CommandsJSON(), &records); err != nil {
		records = []artifacts.CommandRecord{}
	}

	timing := make([]timingEntry, 0, len(records))
	var base, prevEnd, total int64
	if len(records) > 0 {
		base = records[0].Timestamp
		total = records[len(records)-1].EndTimestamp - base
	}
	for _, rec := range records {
		gap := int64(0)
		if prevEnd > 0 {
			gap = rec.Timestamp - prevEnd
		}
		timing = append(timing, timingEntry{
			Command:       rec.Command,
			RelativeStart: rec.Timestamp - base,
			Duration:      rec.Duration,
			GapBefore:     gap,
		})
		prevEnd = rec.EndTimestamp
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"zoomImages":    listZoomImages(tree),
		"timingData":    timing,
		"totalDuration": total,
	})
}

// listZoomImages returns the zoom crops in step order.
func listZoomImages(tree *artifacts.Tree) []string {
	entries, err := os.ReadDir(tree.ScreenshotsDir())
	if err != nil {
		return []string{}
	}
	type zoomFile struct {
		index int
		name  string
	}
	var zooms []zoomFile
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, "_zoom.jpg") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, "_zoom.jpg"))
		if err != nil {
			continue
		}
		zooms = append(zooms, zoomFile{index: idx, name: name})
	}
	sort.Slice(zooms, func(i, j int) bool { return zooms[i].index < zooms[j].index })
	out := make([]string, len(zooms))
	for i, z := range zooms {
		out[i] = z.name
	}
	return out
}

func (s *Server) handleStepDetail(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.sessionTree(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid step index")
		return
	}

	var records []artifacts.CommandRecord
	if err := readJSONFile(tree.CommandsJSON(), &records); err != nil {
		s.writeError(w, http.StatusNotFound, "session has no command log")
		return
	}
	var rec *artifacts.CommandRecord
	for i := range records {
		if records[i].Index == index {
			rec = &records[i]
			break
		}
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "unknown step")
		return
	}

	verb := ""
	if len(rec.Command) > 0 {
		verb = rec.Command[0]
	}

	detail := map[string]any{
		"command": rec,
		"screenshots": map[string]string{
			"pre":  existingName(tree.PreScreenshot(index, verb)),
			"post": existingName(tree.PostScreenshot(index, verb)),
		},
		"timing": map[string]int64{
			"start":    rec.Timestamp,
			"end":      rec.EndTimestamp,
			"duration": rec.Duration,
		},
		"metrics":   stepMetrics(tree, index),
		"dom":       existingName(tree.DomCoords(index)),
		"videoClip": existingName(filepath.Join(tree.CommandsTSDir(), "command_"+strconv.Itoa(index)+".mp4")),
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// stepMetrics filters the session series down to one command index.
func stepMetrics(tree *artifacts.Tree, index int) []metrics.Sample {
	var all []metrics.Sample
	if err := readJSONFile(tree.MetricsJSON(), &all); err != nil {
		return []metrics.Sample{}
	}
	out := []metrics.Sample{}
	for _, sample := range all {
		if sample.CommandIndex == index {
			out = append(out, sample)
		}
	}
	return out
}

func (s *Server) handleLatestImage(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.sessionTree(w, r)
	if !ok {
		return
	}
	data, err := os.ReadFile(tree.LatestJPG())
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no preview frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// existingName returns the base name when the file exists, else "".
func existingName(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return filepath.Base(path)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
