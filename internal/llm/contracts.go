package llm

import (
	"context"

	"github.com/finreports/stmtsplit/internal/entity"
)

// BoundaryHint is one statement span proposed by the model for a window.
type BoundaryHint struct {
	StartPage  int     `json:"start_page"` // absolute, 1-based
	EndPage    int     `json:"end_page"`
	Confidence float64 `json:"confidence,omitempty"`
	Bank       string  `json:"bank,omitempty"`
	Account    string  `json:"account,omitempty"`
	Period     string  `json:"period,omitempty"`
}

// BoundaryHints is the structured response for one analysis window.
type BoundaryHints struct {
	Boundaries []BoundaryHint `json:"boundaries"`
}

// WindowRequest carries one overlapping page window to the model.
type WindowRequest struct {
	WindowIndex int
	Pages       []entity.Page // absolute page indices preserved
}

// MetadataRequest asks for bank/account/period of one statement span.
type MetadataRequest struct {
	StartPage int
	EndPage   int
	Text      string
}

// StatementFields is the normalized metadata shape we want from the model.
// Absent fields stay empty; the model is instructed to omit, not guess.
type StatementFields struct {
	Bank       string  `json:"bank,omitempty"`
	Account    string  `json:"account,omitempty"`
	Period     string  `json:"period,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Analyzer is the language-model boundary the pipeline depends on.
type Analyzer interface {
	// AnalyzeWindow returns boundary hints for a window plus the raw JSON
	// for the audit trail.
	AnalyzeWindow(ctx context.Context, req WindowRequest) (BoundaryHints, []byte, error)
	// ExtractMetadata returns statement metadata plus the raw JSON.
	ExtractMetadata(ctx context.Context, req MetadataRequest) (StatementFields, []byte, error)
}
