package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/detect"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/upload"
)

const headerText = "Bank of America\nAccount Number: 1234567890\n" +
	"Statement Period: 01/01/2024 - 01/31/2024\nBeginning Balance $1,000.00\n" +
	"01/03 Grocery Store -45.12\n01/04 Payroll Deposit +2,500.00\n" +
	"01/07 Utility Payment -120.00\n01/12 Coffee Shop -6.40\n" +
	"Ending Balance $3,328.48\nThank you for banking with us.\n"

type stubText struct {
	pages []entity.Page
	err   error
}

func (s *stubText) Extract(context.Context, string) ([]entity.Page, error) {
	return s.pages, s.err
}

type stubDetector struct {
	cands    []entity.BoundaryCandidate
	degraded bool
	errs     []error // consumed one per call, nil entries succeed
	calls    int
}

func (s *stubDetector) Detect(_ context.Context, _ *entity.Document, trail *entity.AttemptTrail) ([]entity.BoundaryCandidate, bool, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, false, err
		}
	}
	return s.cands, s.degraded, nil
}

type stubMeta struct {
	errs      []error
	gotAIDown []bool
}

func (s *stubMeta) Annotate(_ context.Context, _ *entity.Document, stmts []entity.Statement, _ *entity.AttemptTrail, aiDown bool) ([]entity.Statement, error) {
	s.gotAIDown = append(s.gotAIDown, aiDown)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return stmts, nil
}

type stubGen struct {
	cleanups int
}

func (s *stubGen) Generate(_ context.Context, doc *entity.Document, stmts []entity.Statement) ([]entity.Statement, error) {
	out := make([]entity.Statement, len(stmts))
	copy(out, stmts)
	for i := range out {
		if !out[i].IsFragment {
			out[i].OutputPath = filepath.Join("/work", doc.ID.String(), "statement.pdf")
		}
	}
	return out, nil
}

func (s *stubGen) Cleanup(*entity.Document) { s.cleanups++ }

type stubValidator struct {
	pass bool
}

func (s *stubValidator) Validate(_ *entity.Document, stmts []entity.Statement) ([]entity.ValidationVerdict, bool) {
	out := make([]entity.ValidationVerdict, 0, len(stmts))
	for _, st := range stmts {
		v := entity.ValidationVerdict{StatementID: st.ID, Passed: s.pass}
		if !s.pass {
			v.Reasons = []string{"size outside tolerance"}
		}
		out = append(out, v)
	}
	return out, s.pass
}

type stubStore struct {
	recs []entity.QuarantineRecord
}

func (s *stubStore) Add(_ context.Context, rec entity.QuarantineRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

type fixture struct {
	pipe      *Pipeline
	text      *stubText
	detector  *stubDetector
	meta      *stubMeta
	gen       *stubGen
	validator *stubValidator
	store     *stubStore
	source    string
}

func passOrganize(_ string, stmts []entity.Statement, _ *slog.Logger) ([]entity.Statement, error) {
	return stmts, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "statements.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF-1.4 stub"), 0o644))

	pages := []entity.Page{
		{Index: 1, Text: headerText},
		{Index: 2, Text: "01/15 Restaurant -32.00\n01/16 Gas Station -41.75\n"},
		{Index: 3, Text: headerText},
	}
	cands := []entity.BoundaryCandidate{
		{StartPage: 1, EndPage: 2, Confidence: 0.9, Source: entity.SourceAI},
		{StartPage: 3, EndPage: 3, Confidence: 0.85, Source: entity.SourceAI},
	}

	cfg := &common.Config{
		Detect:   common.DetectConfig{WindowSize: 6, WindowOverlap: 2, FragmentThreshold: 0.3, MinSpanTextLen: 200},
		Pipeline: common.PipelineConfig{MaxRetryAttempts: 2},
		Output:   common.OutputConfig{OutputDir: filepath.Join(dir, "out")},
	}

	f := &fixture{
		text:      &stubText{pages: pages},
		detector:  &stubDetector{cands: cands},
		meta:      &stubMeta{},
		gen:       &stubGen{},
		validator: &stubValidator{pass: true},
		store:     &stubStore{},
		source:    source,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	classifier := detect.NewClassifier(detect.DefaultPatterns(), cfg.Detect, logger)
	f.pipe = New(cfg, f.text, f.detector, classifier, f.meta, f.gen,
		passOrganize, f.validator, f.store, upload.NoopClient{}, logger)
	return f
}

func TestHappyPathEndsInHandoff(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, constants.StageHandoff, res.FinalStage)
	assert.False(t, res.Quarantined())
	assert.Len(t, res.Statements, 2)
	assert.Empty(t, f.store.recs)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Handoff.Delivered, 2)
}

func TestMissingSourceQuarantinesAtIngest(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipe.Process(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	require.NoError(t, err)
	assert.Equal(t, constants.StageQuarantine, res.FinalStage)
	require.Len(t, f.store.recs, 1)
	assert.Equal(t, constants.StageIngest, f.store.recs[0].Stage)
	assert.Contains(t, res.Reason, "INGEST")
}

func TestUnsupportedExtensionQuarantines(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(t.TempDir(), "scan.tiff")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))
	res, err := f.pipe.Process(context.Background(), bad)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	assert.Contains(t, f.store.recs[0].Reason, "unsupported file type")
}

func TestTransientStageErrorRetriedInPlace(t *testing.T) {
	f := newFixture(t)
	f.meta.errs = []error{common.Transient("metadata service hiccup", nil)}

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, constants.StageHandoff, res.FinalStage)

	var retries int
	for _, a := range res.Trail {
		if a.Stage == constants.StageExtractMetadata && a.Outcome == constants.OutcomeRetry {
			retries++
		}
	}
	assert.Equal(t, 1, retries)
	assert.Len(t, f.meta.gotAIDown, 2)
}

func TestTransientExhaustionQuarantines(t *testing.T) {
	f := newFixture(t)
	hiccup := common.Transient("metadata service down", nil)
	f.meta.errs = []error{hiccup, hiccup, hiccup}

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	require.Len(t, f.store.recs, 1)
	assert.Equal(t, constants.StageExtractMetadata, f.store.recs[0].Stage)

	last := res.Trail[len(res.Trail)-1]
	assert.Equal(t, constants.OutcomeFatal, last.Outcome)
}

func TestCriticalErrorSkipsRetries(t *testing.T) {
	f := newFixture(t)
	f.detector.errs = []error{common.Critical("source PDF corrupt", nil)}

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	assert.Equal(t, 1, f.detector.calls)
}

func TestValidationFailureQuarantinesAndCleansUp(t *testing.T) {
	f := newFixture(t)
	f.validator.pass = false

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	assert.Equal(t, constants.StageValidate, f.store.recs[0].Stage)
	assert.Contains(t, res.Reason, "failed validation")
	assert.Equal(t, 1, f.gen.cleanups)
	assert.NotEmpty(t, res.Verdicts)
}

func TestPreserveFailedOutputsSkipsCleanup(t *testing.T) {
	f := newFixture(t)
	f.pipe.cfg.Pipeline.PreserveFailedOutputs = true
	f.validator.pass = false

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	assert.Equal(t, 0, f.gen.cleanups)
}

func TestCancellationQuarantinesWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.detector.errs = []error{common.NewAppError(common.KindCancelled, "detection cancelled", context.Canceled)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.pipe.Process(ctx, f.source)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	assert.Equal(t, 1, f.detector.calls)
	// the quarantine record still lands despite the dead context
	require.Len(t, f.store.recs, 1)
	assert.Equal(t, string(common.KindCancelled), f.store.recs[0].Attempts[len(f.store.recs[0].Attempts)-1].ErrorKind)
}

// failingHandoff rejects every statement, as an unreachable endpoint would.
type failingHandoff struct{}

func (failingHandoff) Deliver(_ context.Context, _ *entity.Document, stmts []entity.Statement) (upload.Result, error) {
	res := upload.Result{Failed: map[uuid.UUID]string{}}
	for _, s := range stmts {
		if s.OutputPath != "" {
			res.Failed[s.ID] = "connection refused"
		}
	}
	return res, nil
}

func TestTotalDeliveryFailureStillEndsInHandoff(t *testing.T) {
	f := newFixture(t)
	f.pipe = New(f.pipe.cfg, f.text, f.detector, f.pipe.classifier, f.meta, f.gen,
		passOrganize, f.validator, f.store, failingHandoff{}, f.pipe.logger)

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, constants.StageHandoff, res.FinalStage)
	assert.False(t, res.Quarantined())
	assert.Empty(t, f.store.recs, "generated and validated outputs must not be quarantined over delivery")
	assert.Empty(t, res.Handoff.Delivered)
	assert.Len(t, res.Handoff.Failed, 2)

	var marker bool
	for _, a := range res.Trail {
		if a.Stage == constants.StageHandoff && a.ErrorKind == string(common.KindDegraded) {
			marker = true
		}
	}
	assert.True(t, marker, "undelivered statements must leave a trail entry")
}

func TestDegradedDetectionFlowsIntoMetadata(t *testing.T) {
	f := newFixture(t)
	f.detector.degraded = true
	for i := range f.detector.cands {
		f.detector.cands[i].Source = entity.SourcePattern
	}

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, constants.StageHandoff, res.FinalStage)
	assert.True(t, res.Degraded)
	require.Len(t, f.meta.gotAIDown, 1)
	assert.True(t, f.meta.gotAIDown[0])
}

func TestTerminalExclusivity(t *testing.T) {
	scenarios := map[string]func(*fixture){
		"success":    func(*fixture) {},
		"validation": func(f *fixture) { f.validator.pass = false },
		"detect":     func(f *fixture) { f.detector.errs = []error{common.Critical("boom", nil)} },
	}
	for name, mutate := range scenarios {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			mutate(f)
			res, err := f.pipe.Process(context.Background(), f.source)
			require.NoError(t, err)
			assert.True(t, res.FinalStage.Terminal())
			if res.FinalStage == constants.StageHandoff {
				assert.Empty(t, f.store.recs)
				assert.Empty(t, res.Reason)
			} else {
				assert.Len(t, f.store.recs, 1)
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestTrailSurvivesIntoQuarantineRecord(t *testing.T) {
	f := newFixture(t)
	hiccup := common.Transient("flaky", nil)
	f.meta.errs = []error{hiccup, hiccup, hiccup}

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	require.True(t, res.Quarantined())

	rec := f.store.recs[0]
	assert.Equal(t, res.Document.ID, rec.DocumentID)
	require.NotEmpty(t, rec.Attempts)
	var kinds []string
	for _, a := range rec.Attempts {
		kinds = append(kinds, a.ErrorKind)
	}
	assert.Contains(t, strings.Join(kinds, ","), string(common.KindTransient))
}

func TestEmptyTextDocumentQuarantinesAtAnalyze(t *testing.T) {
	f := newFixture(t)
	f.text.pages = []entity.Page{{Index: 1, Text: ""}, {Index: 2, Text: ""}}

	res, err := f.pipe.Process(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, res.Quarantined())
	assert.Equal(t, constants.StageAnalyze, f.store.recs[0].Stage)
}
