package detect

import (
	"log/slog"

	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
)

// Signal weights for the completeness score. The threshold behavior and the
// 2-of-3 critical element rule are the load-bearing parts; the exact
// weighting is a tuning choice.
const (
	weightHeader = 0.5
	weightLength = 0.3
	weightPrior  = 0.2
)

// Classifier scores boundary candidates and flags fragments. Fragments are
// kept: the consolidator may use them to adjust adjacent spans, but they
// are excluded from output generation.
type Classifier struct {
	patterns *Patterns
	cfg      common.DetectConfig
	logger   *slog.Logger
}

func NewClassifier(patterns *Patterns, cfg common.DetectConfig, logger *slog.Logger) *Classifier {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if cfg.FragmentThreshold <= 0 {
		cfg.FragmentThreshold = 0.3
	}
	if cfg.MinSpanTextLen <= 0 {
		cfg.MinSpanTextLen = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{patterns: patterns, cfg: cfg, logger: logger}
}

// Classify returns a new candidate carrying the computed confidence and
// fragment flag; the input is never mutated.
func (c *Classifier) Classify(doc *entity.Document, cand entity.BoundaryCandidate) entity.BoundaryCandidate {
	text := doc.SpanText(cand.StartPage, cand.EndPage)
	score := c.Score(cand, text)

	out := cand
	out.Confidence = score
	out.Fragment = score < c.cfg.FragmentThreshold
	if out.Fragment {
		c.logger.Debug("classify.fragment",
			"doc_id", doc.ID, "pages", out.StartPage, "to", out.EndPage,
			"confidence", score, "threshold", c.cfg.FragmentThreshold)
	}
	return out
}

// ClassifyAll classifies every candidate for a document.
func (c *Classifier) ClassifyAll(doc *entity.Document, cands []entity.BoundaryCandidate) []entity.BoundaryCandidate {
	out := make([]entity.BoundaryCandidate, 0, len(cands))
	fragments := 0
	for _, cand := range cands {
		cl := c.Classify(doc, cand)
		if cl.Fragment {
			fragments++
		}
		out = append(out, cl)
	}
	c.logger.Info("classify.ok",
		"doc_id", doc.ID, "candidates", len(out), "fragments", fragments)
	return out
}

// Score combines three signals: header-match strength over the span text
// (merged with the candidate's draft metadata), span text length, and the
// candidate's prior confidence. At least 2 of the 3 critical elements
// (bank, account, date) are required for a strong header score.
func (c *Classifier) Score(cand entity.BoundaryCandidate, spanText string) float64 {
	m := c.patterns.Match(spanText)
	// Draft metadata counts as evidence too: AI hints carry fields the
	// regex pass may miss.
	if m.Bank == "" {
		m.Bank = cand.Draft.Bank
	}
	if m.Account == "" {
		m.Account = cand.Draft.Account
	}
	if m.Period == "" {
		m.Period = cand.Draft.Period
	}

	var header float64
	switch m.CriticalElements() {
	case 3:
		header = 1.0
	case 2:
		header = 0.8
	case 1:
		header = 0.35
	}

	length := float64(len(spanText)) / float64(c.cfg.MinSpanTextLen)
	if length > 1 {
		length = 1
	}

	score := weightHeader*header + weightLength*length + weightPrior*cand.Confidence
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
