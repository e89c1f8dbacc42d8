// Package export produces an XLSX summary of a batch run.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/pipeline"
)

// Service renders batch results into workbook bytes.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// SummaryXLSX returns a workbook with one sheet of documents and one sheet
// of statements for the given batch results.
func (s *Service) SummaryXLSX(results []*pipeline.Result) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const docSheet = "Documents"
	const stmtSheet = "Statements"

	if err := renameDefaultSheet(f, docSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(stmtSheet); err != nil {
		return nil, err
	}

	docHeaders := []string{
		"Source Path", "Document ID", "Pages", "Final Stage",
		"Statements", "Degraded", "Delivered", "Reason",
	}
	for i, h := range docHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(docSheet, cell, h)
	}

	stmtHeaders := []string{
		"Source Path", "Statement ID", "Start Page", "End Page",
		"Bank", "Period", "Method", "Confidence", "Fragment",
		"Validation", "Output Path",
	}
	for i, h := range stmtHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(stmtSheet, cell, h)
	}

	docRow, stmtRow := 2, 2
	for _, res := range results {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, docRow)
			_ = f.SetCellValue(docSheet, cell, v)
		}
		write(1, res.Document.SourcePath)
		write(2, res.Document.ID.String())
		write(3, res.Document.PageCount)
		write(4, string(res.FinalStage))
		write(5, len(res.Statements))
		write(6, res.Degraded)
		write(7, len(res.Handoff.Delivered))
		write(8, res.Reason)
		docRow++

		verdicts := map[string]entity.ValidationVerdict{}
		for _, v := range res.Verdicts {
			verdicts[v.StatementID.String()] = v
		}

		for _, st := range res.Statements {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, stmtRow)
				_ = f.SetCellValue(stmtSheet, cell, v)
			}
			write(1, res.Document.SourcePath)
			write(2, st.ID.String())
			write(3, st.StartPage)
			write(4, st.EndPage)
			write(5, st.Metadata.Bank)
			write(6, st.Metadata.Period)
			write(7, string(st.Metadata.Method))
			write(8, st.Confidence)
			write(9, st.IsFragment)
			write(10, verdictLabel(verdicts, st))
			write(11, st.OutputPath)
			stmtRow++
		}
	}

	_ = f.SetColWidth(docSheet, "A", "A", 48)
	_ = f.SetColWidth(docSheet, "B", "B", 38)
	_ = f.SetColWidth(docSheet, "H", "H", 60)
	_ = f.SetColWidth(stmtSheet, "A", "A", 48)
	_ = f.SetColWidth(stmtSheet, "B", "B", 38)
	_ = f.SetColWidth(stmtSheet, "E", "F", 22)
	_ = f.SetColWidth(stmtSheet, "K", "K", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"documents", docRow-2,
		"statements", stmtRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteSummary writes the batch summary workbook to path.
func (s *Service) WriteSummary(path string, results []*pipeline.Result) error {
	b, err := s.SummaryXLSX(results)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	s.logger.Info("export.summary.written", "path", path)
	return nil
}

func renameDefaultSheet(f *excelize.File, name string) error {
	def := f.GetSheetName(0)
	if def == name {
		return nil
	}
	return f.SetSheetName(def, name)
}

func verdictLabel(verdicts map[string]entity.ValidationVerdict, st entity.Statement) string {
	v, ok := verdicts[st.ID.String()]
	if !ok {
		return ""
	}
	if v.Passed {
		if len(v.Warnings) > 0 {
			return "passed with warnings"
		}
		return "passed"
	}
	return "failed"
}
