// SPDX-License-Identifier: MIT

package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// CommandStatus is the lifecycle state of a queued or executed command.
type CommandStatus string

const (
	StatusQueued  CommandStatus = "queued"
	StatusRunning CommandStatus = "running"
	StatusDone    CommandStatus = "done"
	StatusError   CommandStatus = "error"
)

// CommandRecord is one entry of commands.json.
type CommandRecord struct {
	Index        int           `json:"index"`
	Command      []string      `json:"command"`
	Timestamp    int64         `json:"timestamp"`
	EndTimestamp int64         `json:"endTimestamp"`
	Duration     int64         `json:"duration"`
	Status       CommandStatus `json:"status"`
	Output       any           `json:"output"`
}

// CommandLog accumulates CommandRecords and persists the full array
// atomically after every step, so commands.json is always valid JSON.
type CommandLog struct {
	mu      sync.Mutex
	tree    *Tree
	records []CommandRecord
}

// NewCommandLog returns an empty log bound to the session tree.
func NewCommandLog(tree *Tree) *CommandLog {
	return &CommandLog{tree: tree}
}

// Append adds a record and flushes commands.json plus the last-command-idx
// sentinel.
func (l *CommandLog) Append(rec CommandRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if err := WriteJSONAtomic(l.tree.CommandsJSON(), l.records); err != nil {
		return err
	}
	return WriteFileAtomic(l.tree.LastCommandIdx(), []byte(strconv.Itoa(rec.Index)))
}

// Records returns a copy of the accumulated records.
func (l *CommandLog) Records() []CommandRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CommandRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of recorded commands.
func (l *CommandLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Flush rewrites commands.json even when no new record was added. Called at
// session end so the file exists for empty sessions too.
func (l *CommandLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records == nil {
		l.records = []CommandRecord{}
	}
	return WriteJSONAtomic(l.tree.CommandsJSON(), l.records)
}

// Status is the live status.json schema observed by external dashboards.
type Status struct {
	Phase               string   `json:"phase"`
	Status              string   `json:"status"` // "active" | "finished"
	StartTime           int64    `json:"startTime"`
	LastUpdate          int64    `json:"lastUpdate"`
	CommandCount        int      `json:"commandCount"`
	CommandsExecuted    int      `json:"commandsExecuted"`
	CurrentCommand      []string `json:"currentCommand,omitempty"`
	CurrentCommandIndex int      `json:"currentCommandIndex"`
	PID                 int      `json:"pid"`
	Hostname            string   `json:"hostname"`
	Errors              []string `json:"errors"`
	VideoProcessing     bool     `json:"videoProcessing"`
	ClientID            string   `json:"clientId"`
	TestID              string   `json:"testId"`
	SessionID           string   `json:"sessionId"`
	InitialURL          string   `json:"initialUrl"`
	Port                int      `json:"port"`
	TotalCommands       int      `json:"totalCommands,omitempty"`
}

// StatusWriter serializes status.json updates.
type StatusWriter struct {
	mu     sync.Mutex
	tree   *Tree
	status Status
}

// NewStatusWriter seeds the writer with identity fields.
func NewStatusWriter(tree *Tree, seed Status) *StatusWriter {
	seed.ClientID = tree.ClientID
	seed.TestID = tree.TestID
	seed.SessionID = tree.SessionID
	if seed.Status == "" {
		seed.Status = "active"
	}
	if seed.Errors == nil {
		seed.Errors = []string{}
	}
	seed.PID = os.Getpid()
	if host, err := os.Hostname(); err == nil {
		seed.Hostname = host
	}
	return &StatusWriter{tree: tree, status: seed}
}

// Update mutates the status under lock and writes it atomically.
func (w *StatusWriter) Update(mutate func(*Status)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	mutate(&w.status)
	w.status.LastUpdate = time.Now().UnixMilli()
	return WriteJSONAtomic(w.tree.StatusJSON(), w.status)
}

// SetPhase is the common single-field transition.
func (w *StatusWriter) SetPhase(phase string) error {
	return w.Update(func(s *Status) { s.Phase = phase })
}

// Snapshot returns a copy of the current status.
func (w *StatusWriter) Snapshot() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SessionMetadata is written once on completion.
type SessionMetadata struct {
	ClientID      string `json:"clientId"`
	TestID        string `json:"testId"`
	SessionID     string `json:"sessionId"`
	InitialURL    string `json:"initialUrl"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	DurationMs    int64  `json:"durationMs"`
	CommandCount  int    `json:"commandCount"`
	Status        string `json:"status"` // "finished"
	VideoRecorded bool   `json:"videoRecorded"`
	Interactive   bool   `json:"interactive"`
}

// ExecutionSummary is emitted as a single EXECUTION_SUMMARY=<json> line on
// stdout for external orchestrators.
type ExecutionSummary struct {
	ClientID         string `json:"clientId"`
	TestID           string `json:"testId"`
	SessionID        string `json:"sessionId"`
	CommandsExecuted int    `json:"commandsExecuted"`
	Errors           int    `json:"errors"`
	DurationMs       int64  `json:"durationMs"`
	SessionPath      string `json:"sessionPath"`
}

// SummaryLine renders the stdout line.
func SummaryLine(s ExecutionSummary) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal execution summary: %w", err)
	}
	return "EXECUTION_SUMMARY=" + string(data), nil
}
