// Package metadata derives bank, account and period for each consolidated
// statement: AI-assisted through the resilient invoker, with a regex
// fallback over the statement's page text. Missing fields stay empty.
package metadata

import (
	"context"
	"log/slog"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/detect"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/llm"
	"github.com/finreports/stmtsplit/internal/retry"
)

// Extractor annotates statements with metadata.
type Extractor struct {
	analyzer llm.Analyzer
	invoker  *retry.Invoker
	patterns *detect.Patterns
	logger   *slog.Logger
}

func NewExtractor(analyzer llm.Analyzer, invoker *retry.Invoker, patterns *detect.Patterns, logger *slog.Logger) *Extractor {
	if patterns == nil {
		patterns = detect.DefaultPatterns()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{analyzer: analyzer, invoker: invoker, patterns: patterns, logger: logger}
}

// Annotate fills metadata for every non-fragment statement, returning new
// statement values. Fragments keep their draft metadata untouched. aiDown
// skips AI calls entirely, e.g. after a detection-stage degradation.
func (e *Extractor) Annotate(ctx context.Context, doc *entity.Document, stmts []entity.Statement, trail *entity.AttemptTrail, aiDown bool) ([]entity.Statement, error) {
	out := make([]entity.Statement, 0, len(stmts))
	for _, s := range stmts {
		if s.IsFragment {
			out = append(out, s)
			continue
		}
		m, err := e.extractOne(ctx, doc, s, trail, aiDown)
		if err != nil {
			return nil, err
		}
		s.Metadata = m
		out = append(out, s)
	}
	return out, nil
}

func (e *Extractor) extractOne(ctx context.Context, doc *entity.Document, s entity.Statement, trail *entity.AttemptTrail, aiDown bool) (entity.Metadata, error) {
	text := doc.SpanText(s.StartPage, s.EndPage)

	if !aiDown {
		fields, err := retry.Invoke(ctx, e.invoker, constants.StageExtractMetadata, "extract_metadata",
			trail, llm.ClassifyServiceError,
			func(ctx context.Context) (llm.StatementFields, error) {
				f, _, aerr := e.analyzer.ExtractMetadata(ctx, llm.MetadataRequest{
					StartPage: s.StartPage,
					EndPage:   s.EndPage,
					Text:      text,
				})
				return f, aerr
			})
		if err == nil {
			return mergeAI(s.Metadata, fields), nil
		}
		if common.KindOf(err) == common.KindCancelled {
			return entity.Metadata{}, err
		}
		e.logger.Warn("metadata.fallback.pattern",
			"doc_id", doc.ID, "statement_id", s.ID, "error", err)
	}

	return e.patternExtract(s.Metadata, text), nil
}

// mergeAI overlays AI fields onto the draft, keeping draft values where the
// model omitted a field. Nothing is guessed: absent stays absent.
func mergeAI(draft entity.Metadata, f llm.StatementFields) entity.Metadata {
	m := entity.Metadata{
		Bank:    f.Bank,
		Account: f.Account,
		Period:  f.Period,
		Method:  constants.MethodAI,
	}
	if m.Bank == "" {
		m.Bank = draft.Bank
	}
	if m.Account == "" {
		m.Account = draft.Account
	}
	if m.Period == "" {
		m.Period = draft.Period
	}
	return m
}

// patternExtract runs the regex pass over the span text, again keeping any
// draft values the pass cannot improve on.
func (e *Extractor) patternExtract(draft entity.Metadata, text string) entity.Metadata {
	match := e.patterns.Match(text)
	m := entity.Metadata{
		Bank:    match.Bank,
		Account: match.Account,
		Period:  match.Period,
		Method:  constants.MethodPattern,
	}
	if m.Bank == "" {
		m.Bank = draft.Bank
	}
	if m.Account == "" {
		m.Account = draft.Account
	}
	if m.Period == "" {
		m.Period = draft.Period
	}
	return m
}
