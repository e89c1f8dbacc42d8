// Package pipeline orchestrates one document's journey from source PDF to
// per-statement outputs. Each document moves through a fixed stage sequence
// and ends in exactly one terminal state: handoff or quarantine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/detect"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/upload"
)

// TextExtractor turns a source PDF into ordered page texts.
type TextExtractor interface {
	Extract(ctx context.Context, path string) ([]entity.Page, error)
}

// BoundaryDetector produces boundary candidates, reporting degraded mode
// when the language-model service was unavailable.
type BoundaryDetector interface {
	Detect(ctx context.Context, doc *entity.Document, trail *entity.AttemptTrail) ([]entity.BoundaryCandidate, bool, error)
}

// MetadataAnnotator fills statement metadata. aiDown skips the
// language-model call and goes straight to pattern extraction.
type MetadataAnnotator interface {
	Annotate(ctx context.Context, doc *entity.Document, stmts []entity.Statement, trail *entity.AttemptTrail, aiDown bool) ([]entity.Statement, error)
}

// StatementGenerator writes one PDF per non-fragment statement.
type StatementGenerator interface {
	Generate(ctx context.Context, doc *entity.Document, stmts []entity.Statement) ([]entity.Statement, error)
	Cleanup(doc *entity.Document)
}

// Organizer moves generated files into the final output layout.
type Organizer func(outDir string, stmts []entity.Statement, logger *slog.Logger) ([]entity.Statement, error)

// OutputValidator checks generated files against the source document.
type OutputValidator interface {
	Validate(doc *entity.Document, stmts []entity.Statement) ([]entity.ValidationVerdict, bool)
}

// Quarantiner records terminal failures.
type Quarantiner interface {
	Add(ctx context.Context, rec entity.QuarantineRecord) error
}

// Result is the terminal outcome for one document.
type Result struct {
	Document   *entity.Document
	Statements []entity.Statement
	Verdicts   []entity.ValidationVerdict
	FinalStage constants.Stage
	Degraded   bool
	Handoff    upload.Result
	Reason     string // populated on quarantine
	Trail      []entity.ProcessingAttempt
}

// Quarantined reports whether the document ended in quarantine.
func (r *Result) Quarantined() bool { return r.FinalStage == constants.StageQuarantine }

// Pipeline wires the stages together for sequential per-document runs.
// Safe for concurrent use: per-document state lives in the run, not here.
type Pipeline struct {
	cfg        *common.Config
	text       TextExtractor
	detector   BoundaryDetector
	classifier *detect.Classifier
	meta       MetadataAnnotator
	gen        StatementGenerator
	organize   Organizer
	validator  OutputValidator
	store      Quarantiner
	handoff    upload.Client
	logger     *slog.Logger
}

func New(cfg *common.Config, text TextExtractor, detector BoundaryDetector,
	classifier *detect.Classifier, meta MetadataAnnotator, gen StatementGenerator,
	organize Organizer, validator OutputValidator, store Quarantiner,
	handoff upload.Client, logger *slog.Logger) *Pipeline {
	if handoff == nil {
		handoff = upload.NoopClient{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg: cfg, text: text, detector: detector, classifier: classifier,
		meta: meta, gen: gen, organize: organize, validator: validator,
		store: store, handoff: handoff, logger: logger,
	}
}

// run carries mutable per-document state between stages.
type run struct {
	doc      *entity.Document
	cands    []entity.BoundaryCandidate
	stmts    []entity.Statement
	verdicts []entity.ValidationVerdict
	degraded bool
	delivery upload.Result
	trail    *entity.AttemptTrail
}

// Process runs one document to a terminal state. Quarantine is a normal
// outcome reported through the result; the returned error is reserved for
// failures of the pipeline itself, such as an unwritable quarantine store.
func (p *Pipeline) Process(ctx context.Context, sourcePath string) (*Result, error) {
	r := &run{
		doc: &entity.Document{
			ID:         uuid.New(),
			SourcePath: sourcePath,
			IngestedAt: time.Now().UTC(),
		},
		trail: entity.NewAttemptTrail(),
	}
	log := p.logger.With("doc_id", r.doc.ID, "source", sourcePath)
	log.Info("pipeline.start")

	stages := []struct {
		stage constants.Stage
		fn    func(context.Context, *run) error
	}{
		{constants.StageIngest, p.ingest},
		{constants.StageAnalyze, p.analyze},
		{constants.StageDetect, p.detect},
		{constants.StageExtractMetadata, p.extractMetadata},
		{constants.StageGenerate, p.generate},
		{constants.StageOrganize, p.organizeStage},
		{constants.StageValidate, p.validate},
	}

	for _, s := range stages {
		if err := p.runStage(ctx, log, s.stage, s.fn, r); err != nil {
			return p.quarantineResult(ctx, log, r, s.stage, err)
		}
	}

	if err := p.runStage(ctx, log, constants.StageHandoff, p.deliver, r); err != nil {
		return p.quarantineResult(ctx, log, r, constants.StageHandoff, err)
	}

	log.Info("pipeline.handoff",
		"statements", len(r.stmts), "degraded", r.degraded,
		"delivered", len(r.delivery.Delivered))
	return p.result(r, constants.StageHandoff, ""), nil
}

// runStage executes one stage with in-place retries for recoverable errors.
// Stage retries are independent of the invoker's call-level retries.
func (p *Pipeline) runStage(ctx context.Context, log *slog.Logger, stage constants.Stage, fn func(context.Context, *run) error, r *run) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, r)
		if err == nil {
			return nil
		}
		kind := common.KindOf(err)
		retryable := stageRetryable(kind) && attempt < p.cfg.Pipeline.MaxRetryAttempts
		outcome := constants.OutcomeFatal
		if retryable {
			outcome = constants.OutcomeRetry
		}
		r.trail.Append(entity.ProcessingAttempt{
			Stage: stage, Operation: "stage", Attempt: attempt,
			Outcome: outcome, ErrorKind: string(kind), Detail: err.Error(),
		})
		if !retryable {
			log.Error("pipeline.stage_failed",
				"stage", string(stage), "attempt", attempt, "kind", string(kind), "error", err)
			return err
		}
		log.Warn("pipeline.stage_retry",
			"stage", string(stage), "attempt", attempt, "kind", string(kind), "error", err)
	}
}

// stageRetryable decides which error kinds earn an in-place stage retry.
// Cancellation and critical failures go straight to quarantine; a rate
// limiter timeout may clear once the shared budget refills.
func stageRetryable(kind common.ErrorKind) bool {
	return kind.Retryable() || kind == common.KindRateLimitTimeout
}

func (p *Pipeline) ingest(ctx context.Context, r *run) error {
	info, err := os.Stat(r.doc.SourcePath)
	if err != nil {
		return common.Critical("source file unreadable", err)
	}
	if ext := filepath.Ext(r.doc.SourcePath); !constants.IsSupported(ext) {
		return common.Critical(fmt.Sprintf("unsupported file type %q", ext), nil)
	}
	pages, err := p.text.Extract(ctx, r.doc.SourcePath)
	if err != nil {
		return err
	}
	r.doc.SizeBytes = info.Size()
	r.doc.Pages = pages
	r.doc.PageCount = len(pages)
	p.logger.Info("pipeline.ingest.ok",
		"doc_id", r.doc.ID, "pages", r.doc.PageCount, "bytes", r.doc.SizeBytes)
	return nil
}

// analyze sanity-checks the extracted text before any model calls are spent.
func (p *Pipeline) analyze(_ context.Context, r *run) error {
	var withText int
	for _, pg := range r.doc.Pages {
		if pg.Text != "" {
			withText++
		}
	}
	if withText == 0 {
		return common.Critical("document has no extractable text", common.ErrEmptyDocument)
	}
	windows := detect.BuildWindows(r.doc.Pages, p.cfg.Detect.WindowSize, p.cfg.Detect.WindowOverlap)
	p.logger.Info("pipeline.analyze.ok",
		"doc_id", r.doc.ID, "pages_with_text", withText, "windows", len(windows))
	return nil
}

func (p *Pipeline) detect(ctx context.Context, r *run) error {
	cands, degraded, err := p.detector.Detect(ctx, r.doc, r.trail)
	if err != nil {
		return err
	}
	r.degraded = r.degraded || degraded
	r.cands = p.classifier.ClassifyAll(r.doc, cands)
	r.stmts = detect.Consolidate(r.doc.ID, r.cands, p.logger)
	if len(r.stmts) == 0 {
		return common.Critical("no statements detected", nil)
	}
	return nil
}

func (p *Pipeline) extractMetadata(ctx context.Context, r *run) error {
	stmts, err := p.meta.Annotate(ctx, r.doc, r.stmts, r.trail, r.degraded)
	if err != nil {
		return err
	}
	r.stmts = stmts
	return nil
}

func (p *Pipeline) generate(ctx context.Context, r *run) error {
	stmts, err := p.gen.Generate(ctx, r.doc, r.stmts)
	if err != nil {
		return err
	}
	r.stmts = stmts
	return nil
}

func (p *Pipeline) organizeStage(_ context.Context, r *run) error {
	stmts, err := p.organize(p.cfg.Output.OutputDir, r.stmts, p.logger)
	if err != nil {
		return err
	}
	r.stmts = stmts
	return nil
}

func (p *Pipeline) validate(_ context.Context, r *run) error {
	verdicts, ok := p.validator.Validate(r.doc, r.stmts)
	r.verdicts = verdicts
	if !ok {
		var failed int
		for _, v := range verdicts {
			if !v.Passed {
				failed++
			}
		}
		return common.NewAppError(common.KindValidation,
			fmt.Sprintf("%d of %d statements failed validation", failed, len(verdicts)), nil)
	}
	return nil
}

// deliver hands off whatever validated. Delivery failures never invalidate
// the generated local output: they are recorded in the trail and the result
// and the document still terminates in handoff. Only cancellation fails the
// stage.
func (p *Pipeline) deliver(ctx context.Context, r *run) error {
	res, err := p.handoff.Deliver(ctx, r.doc, r.stmts)
	if err != nil {
		return err
	}
	r.delivery = res
	if len(res.Failed) > 0 {
		p.logger.Warn("pipeline.handoff.partial",
			"doc_id", r.doc.ID, "delivered", len(res.Delivered), "failed", len(res.Failed))
		r.trail.Append(entity.ProcessingAttempt{
			Stage: constants.StageHandoff, Operation: "deliver",
			Outcome: constants.OutcomeSuccess, ErrorKind: string(common.KindDegraded),
			Detail: fmt.Sprintf("%d of %d statements not delivered; outputs remain local",
				len(res.Failed), len(res.Delivered)+len(res.Failed)),
		})
	}
	return nil
}

func (p *Pipeline) quarantineResult(ctx context.Context, log *slog.Logger, r *run, stage constants.Stage, cause error) (*Result, error) {
	reason := fmt.Sprintf("%s failed: %v", stage, cause)
	rec := entity.QuarantineRecord{
		DocumentID: r.doc.ID,
		SourcePath: r.doc.SourcePath,
		Stage:      stage,
		Reason:     reason,
		Attempts:   r.trail.All(),
	}
	// Quarantine writes use a fresh context so a cancelled run still leaves
	// a triage record behind.
	qctx := ctx
	if qctx.Err() != nil {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := p.store.Add(qctx, rec); err != nil {
		return nil, common.WrapError(err, "record quarantine")
	}
	if !p.cfg.Pipeline.PreserveFailedOutputs {
		p.gen.Cleanup(r.doc)
	}
	log.Error("pipeline.quarantined", "stage", string(stage), "reason", reason)
	return p.result(r, constants.StageQuarantine, reason), nil
}

func (p *Pipeline) result(r *run, stage constants.Stage, reason string) *Result {
	return &Result{
		Document:   r.doc,
		Statements: r.stmts,
		Verdicts:   r.verdicts,
		FinalStage: stage,
		Degraded:   r.degraded,
		Handoff:    r.delivery,
		Reason:     reason,
		Trail:      r.trail.All(),
	}
}
