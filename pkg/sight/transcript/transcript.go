// Package transcript accumulates streamed transcription fragments into
// committed conversation turns.
package transcript

import (
	"strings"
	"sync"
)

// DefaultHistoryLimit bounds the committed history when no limit is given.
const DefaultHistoryLimit = 20

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one committed utterance. Turns are never modified after commit.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Accumulator holds the in-progress text for both roles and the committed
// history. It is safe for concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	input   strings.Builder
	output  strings.Builder
	history []Turn
	limit   int
}

// New returns an Accumulator keeping at most limit turns. limit <= 0 uses
// DefaultHistoryLimit.
func New(limit int) *Accumulator {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Accumulator{
		history: make([]Turn, 0, limit),
		limit:   limit,
	}
}

// AppendInput appends a user transcription fragment and returns the
// cumulative user text for the current turn.
func (a *Accumulator) AppendInput(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(fragment)
	return a.input.String()
}

// AppendOutput appends a model transcription fragment and returns the
// cumulative model text for the current turn.
func (a *Accumulator) AppendOutput(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(fragment)
	return a.output.String()
}

// Partial returns the uncommitted text for both roles.
func (a *Accumulator) Partial() (input, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input.String(), a.output.String()
}

// Commit closes the current turn. Non-empty trimmed buffers are appended to
// history in user, model order and both buffers are cleared. The newly
// committed turns are returned.
func (a *Accumulator) Commit() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	var committed []Turn
	if text := strings.TrimSpace(a.input.String()); text != "" {
		committed = append(committed, Turn{Role: RoleUser, Text: text})
	}
	if text := strings.TrimSpace(a.output.String()); text != "" {
		committed = append(committed, Turn{Role: RoleModel, Text: text})
	}
	a.input.Reset()
	a.output.Reset()

	a.history = append(a.history, committed...)
	if over := len(a.history) - a.limit; over > 0 {
		n := copy(a.history, a.history[over:])
		clear(a.history[n:])
		a.history = a.history[:n]
	}
	return committed
}

// History returns a copy of the committed turns, oldest first.
func (a *Accumulator) History() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.history))
	copy(out, a.history)
	return out
}

// ResetPartial drops uncommitted text but keeps history.
func (a *Accumulator) ResetPartial() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
}

// Reset drops everything.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
	clear(a.history)
	a.history = a.history[:0]
}

// Limit returns the history cap.
func (a *Accumulator) Limit() int { return a.limit }
