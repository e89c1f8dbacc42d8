// Package validate checks the structural integrity of generated statement
// files against the consolidated boundaries and fragment exceptions.
package validate

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/entity"
)

// Probe abstracts the PDF inspections so tests can stub them.
type Probe interface {
	PageCount(path string) (int, error)
	FileSize(path string) (int64, error)
	Structural(path string) error
}

type pdfcpuProbe struct{}

func (pdfcpuProbe) PageCount(path string) (int, error) { return api.PageCountFile(path) }

func (pdfcpuProbe) FileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (pdfcpuProbe) Structural(path string) error { return api.ValidateFile(path, nil) }

// Validator emits one verdict per statement.
type Validator struct {
	strictness    constants.Strictness
	sizeTolerance float64
	probe         Probe
	logger        *slog.Logger
}

func NewValidator(strictness constants.Strictness, sizeTolerance float64, probe Probe, logger *slog.Logger) *Validator {
	if sizeTolerance <= 0 {
		sizeTolerance = 0.25
	}
	if probe == nil {
		probe = pdfcpuProbe{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{strictness: strictness, sizeTolerance: sizeTolerance, probe: probe, logger: logger}
}

// Validate checks every generated output. Fragments have no output file and
// pass vacuously; their pages instead widen the size tolerance band of the
// document's real statements. ok is false when any verdict failed.
func (v *Validator) Validate(doc *entity.Document, stmts []entity.Statement) (verdicts []entity.ValidationVerdict, ok bool) {
	fragmentPages := 0
	for _, s := range stmts {
		if s.IsFragment {
			fragmentPages += s.PageSpan()
		}
	}

	ok = true
	for _, s := range stmts {
		verdict := v.validateOne(doc, s, fragmentPages)
		if !verdict.Passed {
			ok = false
		}
		verdicts = append(verdicts, verdict)
	}
	v.logger.Info("validate.ok",
		"doc_id", doc.ID, "verdicts", len(verdicts), "passed", ok,
		"strictness", string(v.strictness))
	return verdicts, ok
}

func (v *Validator) validateOne(doc *entity.Document, s entity.Statement, fragmentPages int) entity.ValidationVerdict {
	verdict := entity.ValidationVerdict{StatementID: s.ID, Passed: true}
	if s.IsFragment {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("fragment pages %d-%d skipped from output", s.StartPage, s.EndPage))
		return verdict
	}
	if s.OutputPath == "" {
		v.fail(&verdict, "no output file generated")
		return verdict
	}

	// Structural validity is never downgraded: emitting a malformed PDF
	// silently is the one thing this stage exists to prevent.
	if err := v.probe.Structural(s.OutputPath); err != nil {
		v.fail(&verdict, fmt.Sprintf("structurally invalid pdf: %v", err))
		return verdict
	}

	if n, err := v.probe.PageCount(s.OutputPath); err != nil {
		v.fail(&verdict, fmt.Sprintf("page count unreadable: %v", err))
	} else if n != s.PageSpan() {
		msg := fmt.Sprintf("page count %d does not match span %d-%d", n, s.StartPage, s.EndPage)
		if v.strictness == constants.StrictnessLenient {
			verdict.Warnings = append(verdict.Warnings, msg)
		} else {
			v.fail(&verdict, msg)
		}
	}

	if size, err := v.probe.FileSize(s.OutputPath); err != nil {
		v.fail(&verdict, fmt.Sprintf("size unreadable: %v", err))
	} else if doc.SizeBytes > 0 && doc.PageCount > 0 {
		expected := float64(doc.SizeBytes) * float64(s.PageSpan()) / float64(doc.PageCount)
		// The band widens in proportion to the skipped-fragment byte
		// estimate so a document with dropped fragments doesn't trip a
		// spurious size failure.
		tolerance := v.sizeTolerance + float64(fragmentPages)/float64(doc.PageCount)
		low := expected * (1 - tolerance)
		high := expected * (1 + tolerance)
		if float64(size) < low || float64(size) > high {
			msg := fmt.Sprintf("size %d outside band [%.0f, %.0f]", size, low, high)
			if v.strictness == constants.StrictnessStrict {
				v.fail(&verdict, msg)
			} else {
				verdict.Warnings = append(verdict.Warnings, msg)
			}
		}
	}

	return verdict
}

func (v *Validator) fail(verdict *entity.ValidationVerdict, reason string) {
	verdict.Passed = false
	verdict.Reasons = append(verdict.Reasons, reason)
}
