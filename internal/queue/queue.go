// SPDX-License-Identifier: MIT

// Package queue serializes session operations. One consumer goroutine feeds
// the engine, so commands run strictly in enqueue order and the engine never
// sees concurrent calls.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/metrics"
)

// ItemType classifies queued operations.
type ItemType string

const (
	ItemStart   ItemType = "start"
	ItemExecute ItemType = "execute"
	ItemEnd     ItemType = "end"
)

// ItemStatus tracks an item through its lifecycle.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusRunning ItemStatus = "running"
	StatusDone    ItemStatus = "done"
	StatusFailed  ItemStatus = "failed"
	StatusCleared ItemStatus = "cleared"
)

// StartRequest carries the payload of a start item.
type StartRequest struct {
	URL       string
	ClientID  string
	TestID    string
	SessionID string
}

// EndRequest carries the payload of an end item.
type EndRequest struct {
	QuickCleanup bool
}

// Item is one queued operation with its outcome.
type Item struct {
	ID         string     `json:"id"`
	Type       ItemType   `json:"type"`
	Command    []any      `json:"command,omitempty"`
	Status     ItemStatus `json:"status"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     any        `json:"output,omitempty"`

	start StartRequest
	end   EndRequest
}

// Engine is the consumer's target. The session engine implements it; tests
// use fakes.
type Engine interface {
	Start(ctx context.Context, req StartRequest) error
	Execute(ctx context.Context, raw []any) (map[string]any, error)
	End(ctx context.Context, quick bool) error
}

// ErrExecuteDisabled rejects new commands after a dispatch failure until the
// queue is reset.
var ErrExecuteDisabled = errors.New("execute disabled after dispatch failure")

// historyLimit bounds the retained item log.
const historyLimit = 50

// Callbacks observe item transitions, used by the API layer for push
// notifications. All fields optional.
type Callbacks struct {
	OnItemStart  func(Item)
	OnItemFinish func(Item)
}

// Queue owns the pending list and the consumer goroutine.
type Queue struct {
	engine Engine
	logger zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*Item
	history   []*Item
	byID      map[string]*Item
	disabled  bool
	closed    bool
	callbacks Callbacks

	done chan struct{}
}

// New builds a queue for engine; Run must be called to start consuming.
func New(engine Engine) *Queue {
	q := &Queue{
		engine: engine,
		logger: log.WithComponent("queue"),
		byID:   make(map[string]*Item),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetCallbacks installs transition observers. Call before Run.
func (q *Queue) SetCallbacks(cb Callbacks) {
	q.mu.Lock()
	q.callbacks = cb
	q.mu.Unlock()
}

// EnqueueStart queues session initialization.
func (q *Queue) EnqueueStart(req StartRequest) (string, error) {
	return q.enqueue(&Item{Type: ItemStart, start: req})
}

// EnqueueExecute queues one command in raw wire form.
func (q *Queue) EnqueueExecute(raw []any) (string, error) {
	q.mu.Lock()
	disabled := q.disabled
	q.mu.Unlock()
	if disabled {
		return "", ErrExecuteDisabled
	}
	return q.enqueue(&Item{Type: ItemExecute, Command: raw})
}

// EnqueueEnd queues session teardown.
func (q *Queue) EnqueueEnd(req EndRequest) (string, error) {
	return q.enqueue(&Item{Type: ItemEnd, end: req})
}

func (q *Queue) enqueue(item *Item) (string, error) {
	item.ID = uuid.NewString()
	item.Status = StatusPending
	item.EnqueuedAt = time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", errors.New("queue closed")
	}
	q.pending = append(q.pending, item)
	q.byID[item.ID] = item
	q.remember(item)
	metrics.QueueDepth.Set(float64(len(q.pending)))
	q.cond.Signal()
	return item.ID, nil
}

// remember appends to the bounded history; caller holds the lock.
func (q *Queue) remember(item *Item) {
	q.history = append(q.history, item)
	if len(q.history) > historyLimit {
		drop := q.history[0]
		delete(q.byID, drop.ID)
		q.history = q.history[1:]
	}
}

// Status returns a copy of the item, false when unknown or evicted.
func (q *Queue) Status(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns a snapshot of the retained history, oldest first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.history))
	for i, it := range q.history {
		out[i] = *it
	}
	return out
}

// Depth reports pending items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Reset lifts the execute-disabled latch after a dispatch failure.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.disabled = false
	q.mu.Unlock()
}

// Run consumes until ctx is canceled or Close is called. Blocks; run it on
// its own goroutine.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)

	// Wake the cond wait when the context dies.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		metrics.QueueDepth.Set(float64(len(q.pending)))
		item.Status = StatusRunning
		item.StartedAt = time.Now().UTC()
		onStart := q.callbacks.OnItemStart
		q.mu.Unlock()

		if onStart != nil {
			onStart(*item)
		}
		q.consume(ctx, item)
	}
}

func (q *Queue) consume(ctx context.Context, item *Item) {
	var err error
	var output map[string]any

	switch item.Type {
	case ItemStart:
		err = q.engine.Start(ctx, item.start)
	case ItemExecute:
		output, err = q.engine.Execute(ctx, item.Command)
	case ItemEnd:
		err = q.engine.End(ctx, item.end.QuickCleanup)
	}

	q.mu.Lock()
	item.FinishedAt = time.Now().UTC()
	item.Output = output
	if err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
		if item.Type == ItemExecute {
			// A dispatch failure invalidates everything behind it.
			q.clearPendingLocked()
			q.disabled = true
		}
	} else {
		item.Status = StatusDone
	}
	onFinish := q.callbacks.OnItemFinish
	snapshot := *item
	q.mu.Unlock()

	if err != nil {
		q.logger.Error().Err(err).Str("type", string(item.Type)).Str("id", item.ID).Msg("queue item failed")
	}
	if onFinish != nil {
		onFinish(snapshot)
	}
}

// clearPendingLocked marks all waiting items cleared; caller holds the lock.
func (q *Queue) clearPendingLocked() {
	now := time.Now().UTC()
	for _, it := range q.pending {
		it.Status = StatusCleared
		it.FinishedAt = now
	}
	q.pending = nil
	metrics.QueueDepth.Set(0)
}

// Close stops the consumer after draining what is already pending.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
