package entity

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finreports/stmtsplit/constants"
)

// ProcessingAttempt is one entry in a document's append-only audit trail.
type ProcessingAttempt struct {
	Stage     constants.Stage          `json:"stage"`
	Operation string                   `json:"operation,omitempty"`
	Attempt   int                      `json:"attempt_number"`
	Outcome   constants.AttemptOutcome `json:"outcome"`
	ErrorKind string                   `json:"error_kind,omitempty"`
	Detail    string                   `json:"detail,omitempty"`
	At        time.Time                `json:"at"`
}

// AttemptTrail collects ProcessingAttempts for one document. Append-only;
// safe for the invoker and the orchestrator to share.
type AttemptTrail struct {
	mu       sync.Mutex
	attempts []ProcessingAttempt
}

func NewAttemptTrail() *AttemptTrail {
	return &AttemptTrail{}
}

// Append records one attempt. Timestamps are filled in when zero.
func (t *AttemptTrail) Append(a ProcessingAttempt) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	t.mu.Lock()
	t.attempts = append(t.attempts, a)
	t.mu.Unlock()
}

// All returns a copy of the trail in append order.
func (t *AttemptTrail) All() []ProcessingAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ProcessingAttempt, len(t.attempts))
	copy(out, t.attempts)
	return out
}

// Len returns the number of recorded attempts.
func (t *AttemptTrail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

// QuarantineRecord is the terminal failure state for a document, preserving
// the full diagnostic history for manual triage.
type QuarantineRecord struct {
	DocumentID uuid.UUID           `json:"document_id"`
	SourcePath string              `json:"source_path"`
	Stage      constants.Stage     `json:"stage"`
	Reason     string              `json:"reason"`
	Attempts   []ProcessingAttempt `json:"attempts"`
	CreatedAt  time.Time           `json:"created_at"`
}
