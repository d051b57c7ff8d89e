// SPDX-License-Identifier: MIT

package preview

import "sync"

// Topic fans preview frames out to in-process subscribers, keyed by the
// session's client/test/session path. Slow subscribers drop frames rather
// than backing up the pump.
type Topic struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
	last map[string][]byte
}

// NewTopic returns an empty topic.
func NewTopic() *Topic {
	return &Topic{
		subs: make(map[string]map[chan []byte]struct{}),
		last: make(map[string][]byte),
	}
}

// Publish delivers a frame to every subscriber of key. Channels that are
// full get the stale frame replaced where possible, otherwise skipped.
func (t *Topic) Publish(key string, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[key] = frame
	for ch := range t.subs[key] {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// Latest returns the most recent frame for key, if any.
func (t *Topic) Latest(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.last[key]
	return f, ok
}

// Subscribe registers a buffered channel for key and returns it with an
// unsubscribe function. The channel is closed on unsubscribe.
func (t *Topic) Subscribe(key string) (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	t.mu.Lock()
	if t.subs[key] == nil {
		t.subs[key] = make(map[chan []byte]struct{})
	}
	t.subs[key][ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs[key], ch)
			if len(t.subs[key]) == 0 {
				delete(t.subs, key)
			}
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Drop forgets the cached frame for key, used at session end.
func (t *Topic) Drop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}
