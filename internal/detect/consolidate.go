package detect

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/finreports/stmtsplit/internal/entity"
)

// Consolidate merges overlapping candidates into a final ordered set of
// non-overlapping statements.
//
// Merging requires true page-range overlap: start_page <= previous
// end_page. Adjacent candidates (start_page == previous end_page + 1) are
// distinct statements and are never merged; treating adjacency as overlap
// silently fuses separate statements.
//
// A merged span composed entirely of fragment candidates stays a Statement
// with IsFragment set; everything else becomes a normal Statement carrying
// the best member's confidence and source. Confidence ties between members
// prefer the ai source over pattern.
func Consolidate(docID uuid.UUID, cands []entity.BoundaryCandidate, logger *slog.Logger) []entity.Statement {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cands) == 0 {
		return nil
	}

	sorted := make([]entity.BoundaryCandidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartPage != sorted[j].StartPage {
			return sorted[i].StartPage < sorted[j].StartPage
		}
		return sorted[i].EndPage < sorted[j].EndPage
	})

	var out []entity.Statement
	group := []entity.BoundaryCandidate{sorted[0]}
	end := sorted[0].EndPage

	flush := func() {
		out = append(out, buildStatement(docID, group, end))
	}

	for _, cand := range sorted[1:] {
		if cand.StartPage <= end { // true overlap only
			group = append(group, cand)
			if cand.EndPage > end {
				end = cand.EndPage
			}
			continue
		}
		flush()
		group = []entity.BoundaryCandidate{cand}
		end = cand.EndPage
	}
	flush()

	fragments := 0
	for _, s := range out {
		if s.IsFragment {
			fragments++
		}
	}
	logger.Info("consolidate.ok",
		"doc_id", docID, "candidates", len(cands),
		"statements", len(out), "fragments", fragments)
	return out
}

// buildStatement collapses one overlap group into a Statement.
func buildStatement(docID uuid.UUID, group []entity.BoundaryCandidate, end int) entity.Statement {
	best := group[0]
	allFragments := true
	for _, c := range group {
		if !c.Fragment {
			allFragments = false
		}
		if better(c, best) {
			best = c
		}
	}

	meta := best.Draft
	for _, c := range group {
		if meta.Bank == "" {
			meta.Bank = c.Draft.Bank
		}
		if meta.Account == "" {
			meta.Account = c.Draft.Account
		}
		if meta.Period == "" {
			meta.Period = c.Draft.Period
		}
	}

	return entity.Statement{
		ID:         uuid.New(),
		DocumentID: docID,
		StartPage:  group[0].StartPage,
		EndPage:    end,
		Confidence: best.Confidence,
		IsFragment: allFragments,
		Source:     best.Source,
		Metadata:   meta,
	}
}

// better prefers higher confidence; ties prefer ai over pattern. Fragments
// never beat non-fragments.
func better(c, than entity.BoundaryCandidate) bool {
	if c.Fragment != than.Fragment {
		return !c.Fragment
	}
	if c.Confidence != than.Confidence {
		return c.Confidence > than.Confidence
	}
	return c.Source == entity.SourceAI && than.Source == entity.SourcePattern
}
