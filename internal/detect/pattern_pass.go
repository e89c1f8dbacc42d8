package detect

import (
	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/entity"
)

// patternConfidence is the prior assigned to pattern-derived candidates
// before the fragment classifier rescores them.
const patternConfidence = 0.6

// PatternCandidates runs the deterministic fallback pass: pages whose text
// carries a header signature open a candidate; each candidate runs until
// the page before the next header. Pages before the first header form a
// leading candidate so no extractable text is silently dropped. For a
// document with at least one page of text the result is never empty.
func PatternCandidates(pages []entity.Page, patterns *Patterns) []entity.BoundaryCandidate {
	lastText := 0
	for _, p := range pages {
		if p.Text != "" {
			lastText = p.Index
		}
	}
	if lastText == 0 {
		return nil
	}

	var headers []int
	matches := make(map[int]HeaderMatch)
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		m := patterns.Match(p.Text)
		if m.IsHeader() {
			headers = append(headers, p.Index)
			matches[p.Index] = m
		}
	}

	var out []entity.BoundaryCandidate
	if len(headers) == 0 {
		// No headers anywhere: one low-confidence span over the text we have.
		return []entity.BoundaryCandidate{{
			StartPage:  firstTextPage(pages),
			EndPage:    lastText,
			Confidence: 0.2,
			Source:     entity.SourcePattern,
		}}
	}

	if first := firstTextPage(pages); first < headers[0] {
		// Leading pages with text but no header: likely a fragment,
		// decided by the classifier.
		out = append(out, entity.BoundaryCandidate{
			StartPage:  first,
			EndPage:    headers[0] - 1,
			Confidence: 0.2,
			Source:     entity.SourcePattern,
		})
	}

	for i, h := range headers {
		end := lastText
		if i+1 < len(headers) {
			end = headers[i+1] - 1
		}
		m := matches[h]
		out = append(out, entity.BoundaryCandidate{
			StartPage:  h,
			EndPage:    end,
			Confidence: patternConfidence,
			Source:     entity.SourcePattern,
			Draft: entity.Metadata{
				Bank:    m.Bank,
				Account: m.Account,
				Period:  m.Period,
				Method:  constants.MethodPattern,
			},
		})
	}
	return out
}

func firstTextPage(pages []entity.Page) int {
	for _, p := range pages {
		if p.Text != "" {
			return p.Index
		}
	}
	return 1
}
