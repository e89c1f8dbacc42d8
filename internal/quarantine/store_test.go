package quarantine

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/entity"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord() entity.QuarantineRecord {
	return entity.QuarantineRecord{
		DocumentID: uuid.New(),
		SourcePath: "/in/statements.pdf",
		Stage:      constants.StageDetect,
		Reason:     "boundary detection exhausted retries",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Attempts: []entity.ProcessingAttempt{
			{Stage: constants.StageDetect, Operation: "analyze_window", Attempt: 0, Outcome: constants.OutcomeRetry, ErrorKind: "TRANSIENT", Detail: "status 503", At: time.Now().UTC()},
			{Stage: constants.StageDetect, Operation: "analyze_window", Attempt: 1, Outcome: constants.OutcomeFatal, ErrorKind: "TRANSIENT", Detail: "status 503", At: time.Now().UTC()},
		},
	}
}

func TestAddAndGetRoundTrip(t *testing.T) {
	s := testStore(t)
	rec := sampleRecord()
	require.NoError(t, s.Add(context.Background(), rec))

	got, err := s.Get(context.Background(), rec.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, rec.DocumentID, got.DocumentID)
	assert.Equal(t, rec.SourcePath, got.SourcePath)
	assert.Equal(t, constants.StageDetect, got.Stage)
	assert.Equal(t, rec.Reason, got.Reason)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, constants.OutcomeFatal, got.Attempts[1].Outcome)
	assert.Equal(t, 1, got.Attempts[1].Attempt)
}

func TestAddReplacesPriorRecord(t *testing.T) {
	s := testStore(t)
	rec := sampleRecord()
	require.NoError(t, s.Add(context.Background(), rec))

	rec.Reason = "second failure"
	rec.Attempts = rec.Attempts[:1]
	require.NoError(t, s.Add(context.Background(), rec))

	got, err := s.Get(context.Background(), rec.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "second failure", got.Reason)
	assert.Len(t, got.Attempts, 1)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReportWritten(t *testing.T) {
	s := testStore(t)
	rec := sampleRecord()
	require.NoError(t, s.Add(context.Background(), rec))

	body, err := os.ReadFile(s.ReportPath(rec.DocumentID))
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, rec.DocumentID.String())
	assert.Contains(t, text, "boundary detection exhausted retries")
	assert.Contains(t, text, "analyze_window")
	assert.True(t, strings.Contains(text, "Suggested remediation"))
}
