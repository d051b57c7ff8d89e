// SPDX-License-Identifier: MIT

package preview

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rabbitize/rabbitize/internal/artifacts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCadence(t *testing.T) {
	cases := []struct {
		refresh time.Duration
		want    time.Duration
	}{
		{0, 220 * time.Millisecond},
		{time.Second, 900 * time.Millisecond},
		{2 * time.Second, 1900 * time.Millisecond},
		{5 * time.Second, 4900 * time.Millisecond},
		{10 * time.Second, 9900 * time.Millisecond},
		{30 * time.Second, 9900 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := Cadence(tc.refresh); got != tc.want {
			t.Errorf("Cadence(%v) = %v, want %v", tc.refresh, got, tc.want)
		}
	}
}

func TestPumpWritesLatestAndPublishes(t *testing.T) {
	tree := &artifacts.Tree{
		RunsDir:   t.TempDir(),
		ClientID:  "client",
		TestID:    "test",
		SessionID: "2026-01-02T03-04-05-000Z",
	}
	if err := tree.Init(); err != nil {
		t.Fatalf("init tree: %v", err)
	}

	var captures atomic.Int32
	capture := func(ctx context.Context) ([]byte, error) {
		captures.Add(1)
		return []byte("jpeg-bytes"), nil
	}

	topic := NewTopic()
	frames, unsub := topic.Subscribe(tree.Key())
	defer unsub()

	p := NewPump(tree, capture, 0, topic)
	p.Start(context.Background())

	select {
	case frame := <-frames:
		if string(frame) != "jpeg-bytes" {
			t.Errorf("published frame %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame published")
	}
	p.Stop()

	if captures.Load() == 0 {
		t.Fatal("capture never invoked")
	}
	data, err := os.ReadFile(tree.LatestJPG())
	if err != nil {
		t.Fatalf("latest.jpg not written: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("latest.jpg content %q", data)
	}
}

func TestTopicDropsFramesForSlowSubscribers(t *testing.T) {
	topic := NewTopic()
	ch, unsub := topic.Subscribe("k")
	defer unsub()

	topic.Publish("k", []byte("one"))
	topic.Publish("k", []byte("two"))
	topic.Publish("k", []byte("three"))

	// The buffered channel holds only the freshest frame.
	select {
	case f := <-ch:
		if string(f) != "three" {
			t.Errorf("got stale frame %q", f)
		}
	default:
		t.Fatal("no frame buffered")
	}

	if latest, ok := topic.Latest("k"); !ok || string(latest) != "three" {
		t.Errorf("Latest = %q, %v", latest, ok)
	}
	topic.Drop("k")
	if _, ok := topic.Latest("k"); ok {
		t.Error("Drop did not clear cached frame")
	}
}
