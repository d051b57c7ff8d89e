// SPDX-License-Identifier: MIT

// Package store persists a write-only event trail of session activity in an
// embedded badger database. The sink is best-effort: if the database cannot
// be opened the session runs without it.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
)

// Event is one row of the trail.
type Event struct {
	Timestamp string          `json:"timestamp"`
	Session   string          `json:"session"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Sink appends events keyed evt:<session>:<seq> so a session's trail scans
// in insertion order.
type Sink struct {
	db     *badger.DB
	logger zerolog.Logger

	mu  sync.Mutex
	seq map[string]uint64
}

// Open returns a sink backed by dir, or a disabled sink when dir is empty or
// the database cannot be opened.
func Open(dir string) *Sink {
	s := &Sink{
		logger: log.WithComponent("store"),
		seq:    make(map[string]uint64),
	}
	if dir == "" {
		return s
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("event sink unavailable")
		return s
	}
	s.db = db
	return s
}

// Enabled reports whether events are actually persisted.
func (s *Sink) Enabled() bool { return s != nil && s.db != nil }

// Record appends one event. Failures log and drop; the trail is never on the
// session's critical path.
func (s *Sink) Record(session, kind string, payload any) {
	if !s.Enabled() {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Debug().Err(err).Str("kind", kind).Msg("event payload not serializable")
			return
		}
		raw = data
	}
	evt := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Session:   session,
		Kind:      kind,
		Payload:   raw,
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.seq[session]++
	n := s.seq[session]
	s.mu.Unlock()

	key := []byte(fmt.Sprintf("evt:%s:%012d", session, n))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("kind", kind).Msg("event write failed")
	}
}

// SessionEvents scans a session's trail in order. Intended for diagnostics
// and tests, not the hot path.
func (s *Sink) SessionEvents(session string) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	prefix := []byte("evt:" + session + ":")
	var events []Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var evt Event
				if err := json.Unmarshal(v, &evt); err != nil {
					return err
				}
				events = append(events, evt)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan session events: %w", err)
	}
	return events, nil
}

// Close flushes and closes the database.
func (s *Sink) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}
