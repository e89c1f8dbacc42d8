package export

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/pipeline"
)

func sampleResults() []*pipeline.Result {
	stmtID := uuid.New()
	return []*pipeline.Result{
		{
			Document: &entity.Document{
				ID: uuid.New(), SourcePath: "/in/statements.pdf", PageCount: 5,
			},
			FinalStage: constants.StageHandoff,
			Statements: []entity.Statement{
				{
					ID: stmtID, StartPage: 1, EndPage: 3, Confidence: 0.91,
					Metadata:   entity.Metadata{Bank: "Chase", Period: "2024-01", Method: constants.MethodAI},
					OutputPath: "/out/Chase/2024-01/statement_01.pdf",
				},
				{
					ID: uuid.New(), StartPage: 4, EndPage: 5, Confidence: 0.2, IsFragment: true,
				},
			},
			Verdicts: []entity.ValidationVerdict{
				{StatementID: stmtID, Passed: true},
			},
		},
		{
			Document: &entity.Document{
				ID: uuid.New(), SourcePath: "/in/corrupt.pdf",
			},
			FinalStage: constants.StageQuarantine,
			Reason:     "INGEST failed: source file unreadable",
		},
	}
}

func TestSummaryXLSX(t *testing.T) {
	svc := NewService(nil)
	b, err := svc.SummaryXLSX(sampleResults())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.Contains(t, sheets, "Documents")
	assert.Contains(t, sheets, "Statements")

	stage, err := f.GetCellValue("Documents", "D2")
	require.NoError(t, err)
	assert.Equal(t, "HANDOFF", stage)

	reason, err := f.GetCellValue("Documents", "H3")
	require.NoError(t, err)
	assert.Contains(t, reason, "INGEST failed")

	bank, err := f.GetCellValue("Statements", "E2")
	require.NoError(t, err)
	assert.Equal(t, "Chase", bank)

	verdict, err := f.GetCellValue("Statements", "J2")
	require.NoError(t, err)
	assert.Equal(t, "passed", verdict)

	// second statement has no verdict recorded
	verdict2, err := f.GetCellValue("Statements", "J3")
	require.NoError(t, err)
	assert.Equal(t, "", verdict2)
}

func TestSummaryXLSXEmptyBatch(t *testing.T) {
	svc := NewService(nil)
	b, err := svc.SummaryXLSX(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}
