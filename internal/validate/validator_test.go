package validate

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/entity"
)

// stubProbe answers from maps keyed by output path.
type stubProbe struct {
	pages      map[string]int
	sizes      map[string]int64
	structural map[string]error
}

func (p stubProbe) PageCount(path string) (int, error) { return p.pages[path], nil }

func (p stubProbe) FileSize(path string) (int64, error) { return p.sizes[path], nil }

func (p stubProbe) Structural(path string) error { return p.structural[path] }

func doc4(size int64) *entity.Document {
	return &entity.Document{ID: uuid.New(), PageCount: 4, SizeBytes: size}
}

func outStmt(start, end int, path string) entity.Statement {
	return entity.Statement{ID: uuid.New(), StartPage: start, EndPage: end, OutputPath: path}
}

func TestValidatePasses(t *testing.T) {
	doc := doc4(4000)
	s := outStmt(1, 4, "a.pdf")
	probe := stubProbe{pages: map[string]int{"a.pdf": 4}, sizes: map[string]int64{"a.pdf": 4000}}

	verdicts, ok := NewValidator(constants.StrictnessNormal, 0.25, probe, nil).Validate(doc, []entity.Statement{s})
	assert.True(t, ok)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Passed)
	assert.Empty(t, verdicts[0].Reasons)
}

func TestStructuralFailureNeverDowngraded(t *testing.T) {
	doc := doc4(4000)
	s := outStmt(1, 4, "bad.pdf")
	probe := stubProbe{
		pages:      map[string]int{"bad.pdf": 4},
		sizes:      map[string]int64{"bad.pdf": 4000},
		structural: map[string]error{"bad.pdf": errors.New("xref broken")},
	}

	_, ok := NewValidator(constants.StrictnessLenient, 0.25, probe, nil).Validate(doc, []entity.Statement{s})
	assert.False(t, ok, "a malformed pdf must fail even under lenient")
}

func TestPageCountMismatchByStrictness(t *testing.T) {
	doc := doc4(4000)
	s := outStmt(1, 3, "x.pdf") // span of 3
	probe := stubProbe{pages: map[string]int{"x.pdf": 2}, sizes: map[string]int64{"x.pdf": 3000}}

	_, ok := NewValidator(constants.StrictnessNormal, 0.25, probe, nil).Validate(doc, []entity.Statement{s})
	assert.False(t, ok)

	verdicts, ok := NewValidator(constants.StrictnessLenient, 0.25, probe, nil).Validate(doc, []entity.Statement{s})
	assert.True(t, ok, "lenient downgrades page-count mismatch to a warning")
	assert.NotEmpty(t, verdicts[0].Warnings)
}

func TestSizeMismatchStrictOnly(t *testing.T) {
	doc := doc4(100000)
	s := outStmt(1, 1, "s.pdf") // expected ~25000
	probe := stubProbe{pages: map[string]int{"s.pdf": 1}, sizes: map[string]int64{"s.pdf": 600}}

	_, ok := NewValidator(constants.StrictnessStrict, 0.25, probe, nil).Validate(doc, []entity.Statement{s})
	assert.False(t, ok)

	verdicts, ok := NewValidator(constants.StrictnessNormal, 0.25, probe, nil).Validate(doc, []entity.Statement{s})
	assert.True(t, ok, "normal downgrades size mismatch to a warning")
	assert.NotEmpty(t, verdicts[0].Warnings)
}

func TestFragmentWidensToleranceBand(t *testing.T) {
	// 4-page doc: page 1 is a skipped fragment, pages 2-4 one statement.
	// Output carries 3/4 of the pages but nearly all of the bytes; with the
	// band widened by the fragment share this must not fail size checks.
	doc := doc4(100000)
	frag := entity.Statement{ID: uuid.New(), StartPage: 1, EndPage: 1, IsFragment: true}
	s := outStmt(2, 4, "m.pdf")
	probe := stubProbe{pages: map[string]int{"m.pdf": 3}, sizes: map[string]int64{"m.pdf": 98000}}

	verdicts, ok := NewValidator(constants.StrictnessStrict, 0.25, probe, nil).Validate(doc, []entity.Statement{frag, s})
	assert.True(t, ok)
	require.Len(t, verdicts, 2)
	assert.True(t, verdicts[0].Passed, "fragments pass vacuously")
	assert.NotEmpty(t, verdicts[0].Warnings, "skipped fragment recorded")
	assert.True(t, verdicts[1].Passed)
}

func TestEveryStatementGetsExactlyOneVerdict(t *testing.T) {
	doc := doc4(4000)
	stmts := []entity.Statement{
		outStmt(1, 1, "a.pdf"),
		outStmt(2, 2, "b.pdf"),
		{ID: uuid.New(), StartPage: 3, EndPage: 4, IsFragment: true},
	}
	probe := stubProbe{
		pages: map[string]int{"a.pdf": 1, "b.pdf": 1},
		sizes: map[string]int64{"a.pdf": 1000, "b.pdf": 1000},
	}
	verdicts, _ := NewValidator(constants.StrictnessNormal, 0.25, probe, nil).Validate(doc, stmts)
	require.Len(t, verdicts, len(stmts))
	seen := map[uuid.UUID]bool{}
	for i, verdict := range verdicts {
		assert.Equal(t, stmts[i].ID, verdict.StatementID)
		assert.False(t, seen[verdict.StatementID])
		seen[verdict.StatementID] = true
	}
}

func TestMissingOutputFails(t *testing.T) {
	doc := doc4(4000)
	s := entity.Statement{ID: uuid.New(), StartPage: 1, EndPage: 2}
	_, ok := NewValidator(constants.StrictnessNormal, 0.25, stubProbe{}, nil).Validate(doc, []entity.Statement{s})
	assert.False(t, ok)
}
