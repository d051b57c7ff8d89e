// SPDX-License-Identifier: MIT

package overlay

import (
	"hash/fnv"
	"sync"
)

// palette holds visually distinct colors the scene detector can tell apart
// after video compression. Red and black are reserved for the pre-command
// and idle states of the tracking-pixel corner.
var palette = []string{
	"#00ff00", "#0000ff", "#ffff00", "#ff00ff",
	"#00ffff", "#ff8000", "#8000ff", "#0080ff",
	"#80ff00", "#ff0080", "#00ff80", "#ffffff",
}

// Pattern is the 2x2 color grid painted into the tracking-pixel corner while
// a command executes.
type Pattern [4]string

// ColorMap assigns each verb a stable Pattern and remembers every assignment
// for color-patterns.json.
type ColorMap struct {
	mu       sync.Mutex
	patterns map[string]Pattern
}

// NewColorMap returns an empty map.
func NewColorMap() *ColorMap {
	return &ColorMap{patterns: make(map[string]Pattern)}
}

// For returns the deterministic pattern for a verb, recording it on first
// use.
func (m *ColorMap) For(verb string) Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patterns[verb]; ok {
		return p
	}
	p := patternFor(verb)
	m.patterns[verb] = p
	return p
}

// Snapshot returns all assignments seen so far.
func (m *ColorMap) Snapshot() map[string]Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Pattern, len(m.patterns))
	for k, v := range m.patterns {
		out[k] = v
	}
	return out
}

// patternFor derives four palette entries from an FNV hash of the verb, so
// the same verb always paints the same corner in every session.
func patternFor(verb string) Pattern {
	h := fnv.New64a()
	h.Write([]byte(verb)) //nolint:errcheck // hash.Write never fails
	sum := h.Sum64()

	var p Pattern
	for i := 0; i < 4; i++ {
		// Reduce in uint64; a negative int index would panic here.
		p[i] = palette[(sum>>(uint(i)*8))%uint64(len(palette))]
	}
	return p
}
