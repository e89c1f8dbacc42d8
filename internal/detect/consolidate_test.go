package detect

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finreports/stmtsplit/internal/entity"
)

func cand(start, end int, conf float64, src entity.CandidateSource) entity.BoundaryCandidate {
	return entity.BoundaryCandidate{StartPage: start, EndPage: end, Confidence: conf, Source: src}
}

func assertNoOverlap(t *testing.T, stmts []entity.Statement) {
	t.Helper()
	seen := map[int]bool{}
	for _, s := range stmts {
		for p := s.StartPage; p <= s.EndPage; p++ {
			assert.False(t, seen[p], "page %d appears in two statements", p)
			seen[p] = true
		}
	}
}

func TestAdjacentCandidatesAreNotMerged(t *testing.T) {
	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{
		cand(1, 2, 0.9, entity.SourceAI),
		cand(3, 4, 0.9, entity.SourceAI),
	}, nil)

	require.Len(t, stmts, 2, "adjacency is a statement boundary, not a continuation")
	assert.Equal(t, 1, stmts[0].StartPage)
	assert.Equal(t, 2, stmts[0].EndPage)
	assert.Equal(t, 3, stmts[1].StartPage)
	assert.Equal(t, 4, stmts[1].EndPage)
	assertNoOverlap(t, stmts)
}

func TestOverlappingCandidatesMerge(t *testing.T) {
	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{
		cand(1, 3, 0.8, entity.SourceAI),
		cand(3, 5, 0.7, entity.SourceAI), // shares page 3: true overlap
	}, nil)

	require.Len(t, stmts, 1)
	assert.Equal(t, 1, stmts[0].StartPage)
	assert.Equal(t, 5, stmts[0].EndPage)
	assert.InDelta(t, 0.8, stmts[0].Confidence, 1e-9)
}

func TestThreeStatementMergeRegression(t *testing.T) {
	// 7 pages, complete statements on 1-2, 3-5, 6-7. The historical bug
	// treated start <= end+1 as overlap and fused all three into [1-7].
	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{
		cand(1, 2, 0.9, entity.SourceAI),
		cand(3, 5, 0.9, entity.SourceAI),
		cand(6, 7, 0.9, entity.SourceAI),
	}, nil)

	require.Len(t, stmts, 3, "must yield 3 statements, not one merged [1-7]")
	assert.Equal(t, [2]int{1, 2}, [2]int{stmts[0].StartPage, stmts[0].EndPage})
	assert.Equal(t, [2]int{3, 5}, [2]int{stmts[1].StartPage, stmts[1].EndPage})
	assert.Equal(t, [2]int{6, 7}, [2]int{stmts[2].StartPage, stmts[2].EndPage})
	assertNoOverlap(t, stmts)
}

func TestConfidenceTiePrefersAI(t *testing.T) {
	p := cand(1, 3, 0.8, entity.SourcePattern)
	p.Draft.Bank = "Pattern Bank"
	a := cand(2, 3, 0.8, entity.SourceAI)
	a.Draft.Bank = "AI Bank"

	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{p, a}, nil)
	require.Len(t, stmts, 1)
	assert.Equal(t, entity.SourceAI, stmts[0].Source)
	assert.Equal(t, "AI Bank", stmts[0].Metadata.Bank)
}

func TestAllFragmentGroupStaysFragment(t *testing.T) {
	f1 := cand(1, 1, 0.15, entity.SourcePattern)
	f1.Fragment = true
	f2 := cand(1, 2, 0.2, entity.SourcePattern)
	f2.Fragment = true
	full := cand(3, 5, 0.9, entity.SourceAI)

	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{f1, f2, full}, nil)
	require.Len(t, stmts, 2)
	assert.True(t, stmts[0].IsFragment)
	assert.False(t, stmts[1].IsFragment)
}

func TestFragmentMergedWithFullSpanIsNotFragment(t *testing.T) {
	frag := cand(2, 2, 0.1, entity.SourcePattern)
	frag.Fragment = true
	full := cand(1, 4, 0.85, entity.SourceAI)

	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{frag, full}, nil)
	require.Len(t, stmts, 1)
	assert.False(t, stmts[0].IsFragment)
	assert.InDelta(t, 0.85, stmts[0].Confidence, 1e-9)
}

func TestStatementsOrderedByStartPage(t *testing.T) {
	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{
		cand(6, 7, 0.9, entity.SourceAI),
		cand(1, 2, 0.9, entity.SourcePattern),
		cand(4, 5, 0.9, entity.SourceAI),
	}, nil)
	require.Len(t, stmts, 3)
	for i := 1; i < len(stmts); i++ {
		assert.Greater(t, stmts[i].StartPage, stmts[i-1].EndPage)
	}
	assertNoOverlap(t, stmts)
}

func TestNestedCandidateDoesNotExtendSpan(t *testing.T) {
	outer := cand(1, 5, 0.9, entity.SourceAI)
	inner := cand(2, 3, 0.5, entity.SourceAI)
	stmts := Consolidate(uuid.New(), []entity.BoundaryCandidate{outer, inner}, nil)
	require.Len(t, stmts, 1)
	assert.Equal(t, 5, stmts[0].EndPage)
}
