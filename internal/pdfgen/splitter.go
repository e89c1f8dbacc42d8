// Package pdfgen writes one well-formed PDF per non-fragment statement.
// Files are generated in a working directory and atomically renamed into
// place, so a partial write is never visible to the validator or the
// handoff step.
package pdfgen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
)

// Generator splits the source PDF along consolidated statement boundaries.
type Generator struct {
	workDir string
	logger  *slog.Logger
}

func NewGenerator(workDir string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{workDir: workDir, logger: logger}
}

// Generate produces one PDF per non-fragment statement and returns new
// statement values with OutputPath set. Fragment statements are skipped;
// they stay in the slice, marked, with no output file.
func (g *Generator) Generate(ctx context.Context, doc *entity.Document, stmts []entity.Statement) ([]entity.Statement, error) {
	dir := filepath.Join(g.workDir, doc.ID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.Critical("create work dir", err)
	}

	out := make([]entity.Statement, 0, len(stmts))
	for i, s := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, common.NewAppError(common.KindCancelled, "generation cancelled", err)
		}
		if s.IsFragment {
			g.logger.Info("pdfgen.skip_fragment",
				"doc_id", doc.ID, "statement_id", s.ID,
				"pages", fmt.Sprintf("%d-%d", s.StartPage, s.EndPage))
			out = append(out, s)
			continue
		}

		final := filepath.Join(dir, fmt.Sprintf("statement_%02d.pdf", i+1))
		tmp := final + ".tmp"
		sel := []string{fmt.Sprintf("%d-%d", s.StartPage, s.EndPage)}
		if err := api.TrimFile(doc.SourcePath, tmp, sel, nil); err != nil {
			_ = os.Remove(tmp)
			return nil, common.Transient("trim statement pages", err)
		}
		if err := os.Rename(tmp, final); err != nil {
			_ = os.Remove(tmp)
			return nil, common.Transient("place statement file", err)
		}

		s.OutputPath = final
		out = append(out, s)
		g.logger.Debug("pdfgen.ok",
			"doc_id", doc.ID, "statement_id", s.ID, "path", final,
			"pages", fmt.Sprintf("%d-%d", s.StartPage, s.EndPage))
	}
	return out, nil
}

// Cleanup removes the document's working directory. Used after handoff and
// on quarantine when failed outputs are not preserved.
func (g *Generator) Cleanup(doc *entity.Document) {
	dir := filepath.Join(g.workDir, doc.ID.String())
	if err := os.RemoveAll(dir); err != nil {
		g.logger.Warn("pdfgen.cleanup_failed", "doc_id", doc.ID, "error", err)
	}
}

// Organize moves generated statement files into the final layout
// outDir/<bank>/<period>/<name>.pdf, falling back to "unknown" segments for
// missing metadata. Moves are rename-first with a copy fallback for
// cross-device targets. Returns new statement values with updated paths.
func Organize(outDir string, stmts []entity.Statement, logger *slog.Logger) ([]entity.Statement, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]entity.Statement, 0, len(stmts))
	for _, s := range stmts {
		if s.IsFragment || s.OutputPath == "" {
			out = append(out, s)
			continue
		}
		bank := sanitizeSegment(s.Metadata.Bank)
		period := sanitizeSegment(s.Metadata.Period)
		dir := filepath.Join(outDir, bank, period)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, common.Transient("create output dir", err)
		}
		dst := filepath.Join(dir, filepath.Base(s.OutputPath))
		if err := moveFile(s.OutputPath, dst); err != nil {
			return nil, common.Transient("move statement file", err)
		}
		s.OutputPath = dst
		out = append(out, s)
		logger.Debug("organize.ok", "statement_id", s.ID, "path", dst)
	}
	return out, nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

// sanitizeSegment makes a metadata value safe as a directory name.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
