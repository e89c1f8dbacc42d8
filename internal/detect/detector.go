package detect

import (
	"context"
	"errors"
	"log/slog"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/llm"
	"github.com/finreports/stmtsplit/internal/retry"
)

// aiDefaultConfidence is assumed when a hint arrives without a confidence.
const aiDefaultConfidence = 0.75

// Detector produces boundary candidates for one document.
type Detector struct {
	analyzer llm.Analyzer
	invoker  *retry.Invoker
	patterns *Patterns
	cfg      common.DetectConfig
	logger   *slog.Logger
}

func NewDetector(analyzer llm.Analyzer, invoker *retry.Invoker, patterns *Patterns, cfg common.DetectConfig, logger *slog.Logger) *Detector {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{analyzer: analyzer, invoker: invoker, patterns: patterns, cfg: cfg, logger: logger}
}

// Detect returns boundary candidates for the document. degraded reports
// that the language-model service was unavailable and the deterministic
// pattern pass produced the candidates instead; that is reduced fidelity,
// not an error. Only cancellation is returned as an error.
func (d *Detector) Detect(ctx context.Context, doc *entity.Document, trail *entity.AttemptTrail) (cands []entity.BoundaryCandidate, degraded bool, err error) {
	windows := BuildWindows(doc.Pages, d.cfg.WindowSize, d.cfg.WindowOverlap)
	if len(windows) == 0 {
		return nil, false, common.Critical("no pages to analyze", common.ErrEmptyDocument)
	}

	var ai []entity.BoundaryCandidate
	for _, w := range windows {
		hints, ierr := retry.Invoke(ctx, d.invoker, constants.StageDetect, "analyze_window",
			trail, llm.ClassifyServiceError,
			func(ctx context.Context) (llm.BoundaryHints, error) {
				h, _, aerr := d.analyzer.AnalyzeWindow(ctx, w)
				return h, aerr
			})
		if ierr != nil {
			if common.KindOf(ierr) == common.KindCancelled {
				return nil, false, ierr
			}
			// Service unavailable for this document: total-document
			// fallback. Partial AI hints are discarded so candidates come
			// from one coherent source.
			d.logger.Warn("detect.fallback.pattern",
				"doc_id", doc.ID, "window", w.WindowIndex, "error", ierr,
				"discarded_ai_candidates", len(ai))
			trail.Append(entity.ProcessingAttempt{
				Stage: constants.StageDetect, Operation: "pattern_fallback",
				Outcome: constants.OutcomeSuccess, ErrorKind: string(common.KindDegraded),
				Detail: "language-model service unavailable; pattern pass used",
			})
			return PatternCandidates(doc.Pages, d.patterns), true, nil
		}
		ai = append(ai, d.hintsToCandidates(doc, hints)...)
	}

	if len(ai) == 0 {
		// Parseable but empty responses across all windows: fall back so a
		// document with text never yields an empty candidate set.
		d.logger.Warn("detect.ai_empty.pattern_pass", "doc_id", doc.ID)
		return PatternCandidates(doc.Pages, d.patterns), true, nil
	}

	d.logger.Info("detect.ai.ok",
		"doc_id", doc.ID, "windows", len(windows), "candidates", len(ai))
	return ai, false, nil
}

// hintsToCandidates converts window hints to candidates, clamping page
// ranges into the document and dropping inverted spans.
func (d *Detector) hintsToCandidates(doc *entity.Document, hints llm.BoundaryHints) []entity.BoundaryCandidate {
	out := make([]entity.BoundaryCandidate, 0, len(hints.Boundaries))
	for _, h := range hints.Boundaries {
		start, end := h.StartPage, h.EndPage
		if start < 1 {
			start = 1
		}
		if end > doc.PageCount {
			end = doc.PageCount
		}
		if end < start {
			continue
		}
		conf := h.Confidence
		if conf <= 0 {
			conf = aiDefaultConfidence
		}
		out = append(out, entity.BoundaryCandidate{
			StartPage:  start,
			EndPage:    end,
			Confidence: conf,
			Source:     entity.SourceAI,
			Draft: entity.Metadata{
				Bank:    h.Bank,
				Account: h.Account,
				Period:  h.Period,
				Method:  constants.MethodAI,
			},
		})
	}
	return out
}

// IsDegradation reports whether err marks reduced-fidelity processing.
func IsDegradation(err error) bool {
	var ae *common.AppError
	return errors.As(err, &ae) && ae.Kind == common.KindDegraded
}
