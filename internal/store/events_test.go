// SPDX-License-Identifier: MIT

package store

import (
	"testing"
)

func TestSinkRecordsInOrder(t *testing.T) {
	s := Open(t.TempDir())
	if !s.Enabled() {
		t.Fatal("sink should open in a fresh temp dir")
	}
	defer s.Close()

	s.Record("c/t/s1", "command_start", map[string]any{"index": 0, "verb": ":url"})
	s.Record("c/t/s1", "command_done", map[string]any{"index": 0})
	s.Record("c/t/other", "command_start", nil)

	events, err := s.SessionEvents("c/t/s1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != "command_start" || events[1].Kind != "command_done" {
		t.Errorf("events out of order: %s, %s", events[0].Kind, events[1].Kind)
	}
	if events[0].Session != "c/t/s1" {
		t.Errorf("session = %q", events[0].Session)
	}
}

func TestDisabledSinkIsSafe(t *testing.T) {
	s := Open("")
	if s.Enabled() {
		t.Fatal("empty dir must disable the sink")
	}
	// All operations are no-ops, never panics.
	s.Record("c/t/s", "kind", nil)
	if events, err := s.SessionEvents("c/t/s"); err != nil || events != nil {
		t.Errorf("disabled scan = %v, %v", events, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
