// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/rabbitize/rabbitize/internal/artifacts"
)

func testTree(t *testing.T) *artifacts.Tree {
	t.Helper()
	tree := &artifacts.Tree{
		RunsDir:   t.TempDir(),
		ClientID:  "client",
		TestID:    "test",
		SessionID: "2026-01-02T03-04-05-000Z",
	}
	if err := tree.Init(); err != nil {
		t.Fatalf("init tree: %v", err)
	}
	return tree
}

func TestSamplerCollectsAndFlushes(t *testing.T) {
	tree := testTree(t)
	s := NewSampler(tree)
	s.SetCurrentCommand(3, ":click", `[":click"]`)

	s.Start(context.Background())
	time.Sleep(1200 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	samples := s.Samples()
	if len(samples) == 0 {
		t.Fatal("no samples collected after a second of running")
	}
	got := samples[0]
	if got.CommandIndex != 3 || got.CurrentCommand != ":click" {
		t.Errorf("sample not tagged with current command: %+v", got)
	}
	if got.ElapsedMS <= 0 {
		t.Errorf("elapsed_ms = %d, want > 0", got.ElapsedMS)
	}

	data, err := os.ReadFile(tree.MetricsJSON())
	if err != nil {
		t.Fatalf("read metrics.json: %v", err)
	}
	var onDisk []Sample
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("metrics.json is not a JSON array: %v", err)
	}
	if len(onDisk) != len(samples) {
		t.Errorf("flushed %d samples, collected %d", len(onDisk), len(samples))
	}
}

func TestSamplerProbesOwnProcess(t *testing.T) {
	s := NewSampler(testTree(t))
	if s.proc == nil {
		t.Fatal("no process handle")
	}
	if int(s.proc.Pid) != os.Getpid() {
		t.Fatalf("sampler bound to pid %d, want %d", s.proc.Pid, os.Getpid())
	}

	s.start = time.Now()
	s.tick()
	samples := s.Samples()
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].MemoryMB <= 0 {
		t.Errorf("memory_mb = %v, want the process RSS", samples[0].MemoryMB)
	}
}

func TestFlushWithoutSamplesWritesEmptyArray(t *testing.T) {
	tree := testTree(t)
	s := NewSampler(tree)
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	data, err := os.ReadFile(tree.MetricsJSON())
	if err != nil {
		t.Fatalf("read metrics.json: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("empty flush wrote %q, want []", data)
	}
}

func TestCommandCounterIncrements(t *testing.T) {
	before := counterValue(t, ":test-verb", "success")
	CommandsTotal.WithLabelValues(":test-verb", "success").Inc()
	after := counterValue(t, ":test-verb", "success")
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1", before, after)
	}
}

func counterValue(t *testing.T, verb, outcome string) float64 {
	t.Helper()
	c, err := CommandsTotal.GetMetricWithLabelValues(verb, outcome)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
