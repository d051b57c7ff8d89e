// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rabbitize/rabbitize/internal/artifacts"
	"github.com/rabbitize/rabbitize/internal/config"
	"github.com/rabbitize/rabbitize/internal/queue"
)

type nopEngine struct{}

func (nopEngine) Start(ctx context.Context, req queue.StartRequest) error { return nil }
func (nopEngine) Execute(ctx context.Context, raw []any) (map[string]any, error) {
	return map[string]any{"success": true}, nil
}
func (nopEngine) End(ctx context.Context, quick bool) error { return nil }

func testServer(t *testing.T, runsDir string) (*Server, *queue.Queue) {
	t.Helper()
	q := queue.New(nopEngine{})
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	t.Cleanup(func() {
		q.Close()
		cancel()
	})
	cfg := config.Server{Port: 0, AllowedOrigins: []string{"https://dash.example.com"}}
	return NewServer(cfg, q, runsDir, nil), q
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStartValidation(t *testing.T) {
	s, _ := testServer(t, t.TempDir())
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/start", map[string]any{"url": "https://example.com"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing ids: status %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/start", map[string]any{
		"url": "https://example.com", "clientId": "c", "testId": "t",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid start: status %d body %s", rec.Code, rec.Body)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["queued"] != true || resp["id"] == "" {
		t.Errorf("response = %v", resp)
	}
}

func TestExecuteAndQueueStatus(t *testing.T) {
	s, q := testServer(t, t.TempDir())
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/execute", map[string]any{
		"command": []any{":click"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute: status %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	id := resp["id"].(string)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if item, ok := q.Status(id); ok && item.Status == queue.StatusDone {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doJSON(t, router, http.MethodGet, "/queue/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status: %d", rec.Code)
	}
	var item queue.Item
	json.Unmarshal(rec.Body.Bytes(), &item)
	if item.Status != queue.StatusDone {
		t.Errorf("item status = %s", item.Status)
	}

	rec = doJSON(t, router, http.MethodGet, "/queue/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown item: %d", rec.Code)
	}
}

func TestExecuteRequiresCommand(t *testing.T) {
	s, _ := testServer(t, t.TempDir())
	rec := doJSON(t, s.Router(), http.MethodPost, "/execute", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := testServer(t, t.TempDir())
	router := s.Router()

	if rec := doJSON(t, router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestReadyzGate(t *testing.T) {
	q := queue.New(nopEngine{})
	s := NewServer(config.Server{}, q, t.TempDir(), func() bool { return false })
	rec := doJSON(t, s.Router(), http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestCORSReflectsAllowedOrigin(t *testing.T) {
	s, _ := testServer(t, t.TempDir())
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin reflected: %q", got)
	}
}

// seedSession writes a minimal artifact tree for the read-side handlers.
func seedSession(t *testing.T, runsDir string) *artifacts.Tree {
	t.Helper()
	tree := artifacts.NewTree(runsDir, "client", "test", "2026-01-02T03-04-05-000Z")
	if err := tree.Init(); err != nil {
		t.Fatalf("init tree: %v", err)
	}
	records := []artifacts.CommandRecord{
		{Index: 0, Command: []string{":url", "https://example.com"}, Timestamp: 1000, EndTimestamp: 3000, Duration: 2000, Status: artifacts.StatusDone},
		{Index: 1, Command: []string{":click"}, Timestamp: 4000, EndTimestamp: 5000, Duration: 1000, Status: artifacts.StatusDone},
	}
	if err := artifacts.WriteJSONAtomic(tree.CommandsJSON(), records); err != nil {
		t.Fatalf("seed commands: %v", err)
	}
	if err := artifacts.WriteJSONAtomic(tree.StatusJSON(), artifacts.Status{Phase: "complete", Status: "finished"}); err != nil {
		t.Fatalf("seed status: %v", err)
	}
	for _, name := range []string{"0_zoom.jpg", "1_zoom.jpg"} {
		if err := os.WriteFile(tree.ScreenshotsDir()+"/"+name, []byte("jpg"), 0o644); err != nil {
			t.Fatalf("seed zoom: %v", err)
		}
	}
	return tree
}

func TestSessionsIndex(t *testing.T) {
	runsDir := t.TempDir()
	seedSession(t, runsDir)
	s, _ := testServer(t, runsDir)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: %d", rec.Code)
	}
	var entries []sessionEntry
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ClientID != "client" || entries[0].Status == nil {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestSessionDetailTiming(t *testing.T) {
	runsDir := t.TempDir()
	tree := seedSession(t, runsDir)
	s, _ := testServer(t, runsDir)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/session/client/test/"+tree.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: %d body %s", rec.Code, rec.Body)
	}
	var detail struct {
		ZoomImages    []string      `json:"zoomImages"`
		TimingData    []timingEntry `json:"timingData"`
		TotalDuration int64         `json:"totalDuration"`
	}
	json.Unmarshal(rec.Body.Bytes(), &detail)

	if len(detail.ZoomImages) != 2 || detail.ZoomImages[0] != "0_zoom.jpg" {
		t.Errorf("zoom images = %v", detail.ZoomImages)
	}
	if detail.TotalDuration != 4000 {
		t.Errorf("total duration = %d, want 4000", detail.TotalDuration)
	}
	if len(detail.TimingData) != 2 {
		t.Fatalf("timing rows = %d", len(detail.TimingData))
	}
	if detail.TimingData[1].RelativeStart != 3000 || detail.TimingData[1].GapBefore != 1000 {
		t.Errorf("timing row 1 = %+v", detail.TimingData[1])
	}
}

func TestStepDetail(t *testing.T) {
	runsDir := t.TempDir()
	tree := seedSession(t, runsDir)
	s, _ := testServer(t, runsDir)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/session/client/test/"+tree.SessionID+"/step/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("step: %d", rec.Code)
	}
	var detail map[string]any
	json.Unmarshal(rec.Body.Bytes(), &detail)
	timing := detail["timing"].(map[string]any)
	if timing["duration"].(float64) != 1000 {
		t.Errorf("timing = %v", timing)
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/session/client/test/"+tree.SessionID+"/step/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown step: %d", rec.Code)
	}
}

func TestSessionPathTraversalRejected(t *testing.T) {
	runsDir := t.TempDir()
	seedSession(t, runsDir)
	s, _ := testServer(t, runsDir)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/session/client/test/..%2f..%2f..%2fetc/step/0", nil)
	if rec.Code == http.StatusOK {
		t.Error("traversal path must not succeed")
	}
}
