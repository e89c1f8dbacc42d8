package entity

import (
	"github.com/google/uuid"

	"github.com/finreports/stmtsplit/constants"
)

// CandidateSource tags where a boundary candidate came from.
type CandidateSource string

const (
	SourceAI      CandidateSource = "ai"
	SourcePattern CandidateSource = "pattern"
)

// BoundaryCandidate is a proposed statement page range prior to
// consolidation. Candidates are never mutated after creation; consolidation
// produces new Statement values.
type BoundaryCandidate struct {
	StartPage  int             `json:"start_page"` // 1-based, inclusive
	EndPage    int             `json:"end_page"`   // 1-based, inclusive
	Confidence float64         `json:"confidence"` // [0,1]
	Source     CandidateSource `json:"source"`
	Fragment   bool            `json:"fragment"`
	Draft      Metadata        `json:"draft_metadata"`
}

// PageSpan returns the number of pages covered by the candidate.
func (c BoundaryCandidate) PageSpan() int {
	return c.EndPage - c.StartPage + 1
}

// Overlaps reports true page-range overlap with other. Adjacency
// (c ends exactly one page before other starts) is NOT overlap.
func (c BoundaryCandidate) Overlaps(other BoundaryCandidate) bool {
	return c.StartPage <= other.EndPage && other.StartPage <= c.EndPage
}

// Metadata holds extracted statement attributes. Empty string means the
// field was not found; fields are never guessed.
type Metadata struct {
	Bank    string                     `json:"bank,omitempty"`
	Account string                     `json:"account,omitempty"`
	Period  string                     `json:"period,omitempty"`
	Method  constants.ExtractionMethod `json:"extraction_method,omitempty"`
}

// CriticalElements counts how many of bank/account/period are present.
func (m Metadata) CriticalElements() int {
	n := 0
	if m.Bank != "" {
		n++
	}
	if m.Account != "" {
		n++
	}
	if m.Period != "" {
		n++
	}
	return n
}

// Statement is one consolidated statement span. Statements from one document
// never overlap and are ordered by StartPage. Failed statements are marked,
// not deleted.
type Statement struct {
	ID         uuid.UUID       `json:"id"`
	DocumentID uuid.UUID       `json:"source_document_id"`
	StartPage  int             `json:"start_page"`
	EndPage    int             `json:"end_page"`
	Confidence float64         `json:"confidence"`
	IsFragment bool            `json:"is_fragment"`
	Source     CandidateSource `json:"source"`
	Metadata   Metadata        `json:"metadata"`
	OutputPath string          `json:"output_path,omitempty"`
}

// PageSpan returns the number of pages covered by the statement.
func (s Statement) PageSpan() int {
	return s.EndPage - s.StartPage + 1
}

// ValidationVerdict is the structural check result for one generated output.
// Immutable once emitted.
type ValidationVerdict struct {
	StatementID uuid.UUID `json:"statement_id"`
	Passed      bool      `json:"passed"`
	Reasons     []string  `json:"reasons,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}
