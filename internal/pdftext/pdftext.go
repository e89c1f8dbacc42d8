// Package pdftext is the text extraction service boundary: it turns a
// source PDF into per-page text for boundary analysis. Extraction failure
// is a critical pipeline error.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
)

// Extractor reads PDFs with pdfcpu and decodes page content streams.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns one Page per PDF page, 1-based, including empty pages so
// page indices line up with the source document.
func (e *Extractor) Extract(ctx context.Context, path string) ([]entity.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.Critical("open source pdf", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, common.Critical("pdfcpu read", err)
	}

	pages := make([]entity.Page, 0, pctx.PageCount)
	nonEmpty := 0
	for nr := 1; nr <= pctx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, common.NewAppError(common.KindCancelled, "extraction cancelled", err)
		}
		text := pageText(pctx, nr)
		if text != "" {
			nonEmpty++
		}
		pages = append(pages, entity.Page{Index: nr, Text: text})
	}

	if nonEmpty == 0 {
		return nil, common.Critical("no extractable text", common.ErrEmptyDocument)
	}

	e.logger.Debug("pdftext.extract.ok",
		"path", path, "pages", pctx.PageCount, "non_empty", nonEmpty)
	return pages, nil
}

// PageCount returns the page count of a PDF without full extraction.
func (e *Extractor) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, common.Critical("pdfcpu page count", err)
	}
	return n, nil
}

func pageText(pctx *model.Context, nr int) string {
	r, err := pdfcpu.ExtractPageContent(pctx, nr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return decodeContentStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// decodeContentStream pulls text-showing operators (Tj, TJ, ') out of a
// page content stream. Statement PDFs are machine-generated, so simple
// literal strings cover the useful text; CID-encoded fonts come out empty
// and the page is treated as having no extractable text.
func decodeContentStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodeLiteral(m[1]))
			}
			sb.WriteByte('\n')
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodeLiteral(m[1]))
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}
	return cleanText(sb.String())
}

// decodeLiteral handles basic PDF escape sequences inside a string literal.
func decodeLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// Describe summarizes an extraction for logs.
func Describe(pages []entity.Page) string {
	total := 0
	for _, p := range pages {
		total += len(p.Text)
	}
	return fmt.Sprintf("%d pages, %d chars", len(pages), total)
}
