// Package quarantine persists terminal failure records for operator triage:
// one SQLite row set per document plus a human-readable report file.
package quarantine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS quarantine (
	document_id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	stage       TEXT NOT NULL,
	reason      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS attempts (
	document_id TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	stage       TEXT NOT NULL,
	operation   TEXT,
	attempt     INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	error_kind  TEXT,
	detail      TEXT,
	at          TEXT NOT NULL,
	PRIMARY KEY (document_id, seq)
);`

// Store writes quarantine records under a base directory.
type Store struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger
}

// Open creates the quarantine directory and its database.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.WrapError(err, "create quarantine dir")
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "quarantine.db"))
	if err != nil {
		return nil, common.WrapError(err, "open quarantine db")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "create quarantine schema")
	}
	return &Store{db: db, dir: dir, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add persists a record and writes its triage report. Idempotent per
// document: a second quarantine of the same id replaces the first.
func (s *Store) Add(ctx context.Context, rec entity.QuarantineRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin quarantine tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO quarantine (document_id, source_path, stage, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.DocumentID.String(), rec.SourcePath, string(rec.Stage), rec.Reason,
		rec.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return common.WrapError(err, "insert quarantine record")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attempts WHERE document_id = ?`, rec.DocumentID.String()); err != nil {
		return common.WrapError(err, "clear prior attempts")
	}
	for i, a := range rec.Attempts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (document_id, seq, stage, operation, attempt, outcome, error_kind, detail, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.DocumentID.String(), i, string(a.Stage), a.Operation, a.Attempt,
			string(a.Outcome), a.ErrorKind, a.Detail, a.At.Format(time.RFC3339Nano)); err != nil {
			return common.WrapError(err, "insert attempt")
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit quarantine tx")
	}

	if err := s.writeReport(rec); err != nil {
		// The DB row is authoritative; a report write failure is logged,
		// not fatal.
		s.logger.Warn("quarantine.report_write_failed", "doc_id", rec.DocumentID, "error", err)
	}

	s.logger.Info("quarantine.added",
		"doc_id", rec.DocumentID, "stage", string(rec.Stage),
		"reason", rec.Reason, "attempts", len(rec.Attempts))
	return nil
}

// Get loads one record with its attempt history.
func (s *Store) Get(ctx context.Context, docID uuid.UUID) (entity.QuarantineRecord, error) {
	var rec entity.QuarantineRecord
	var createdAt, stage string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, source_path, stage, reason, created_at
		 FROM quarantine WHERE document_id = ?`, docID.String()).
		Scan(&docID, &rec.SourcePath, &stage, &rec.Reason, &createdAt)
	if err != nil {
		return rec, common.WrapError(err, "load quarantine record")
	}
	rec.DocumentID = docID
	rec.Stage = constants.Stage(stage)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, operation, attempt, outcome, error_kind, detail, at
		 FROM attempts WHERE document_id = ? ORDER BY seq`, docID.String())
	if err != nil {
		return rec, common.WrapError(err, "load attempts")
	}
	defer rows.Close()
	for rows.Next() {
		var a entity.ProcessingAttempt
		var st, outcome, at string
		if err := rows.Scan(&st, &a.Operation, &a.Attempt, &outcome, &a.ErrorKind, &a.Detail, &at); err != nil {
			return rec, common.WrapError(err, "scan attempt")
		}
		a.Stage = constants.Stage(st)
		a.Outcome = constants.AttemptOutcome(outcome)
		a.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.Attempts = append(rec.Attempts, a)
	}
	return rec, rows.Err()
}

// Count returns the number of quarantined documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine`).Scan(&n)
	return n, err
}

// ReportPath returns where a document's triage report lives.
func (s *Store) ReportPath(docID uuid.UUID) string {
	return filepath.Join(s.dir, docID.String(), "report.txt")
}

func (s *Store) writeReport(rec entity.QuarantineRecord) error {
	dir := filepath.Join(s.dir, rec.DocumentID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "report.txt"), []byte(renderReport(rec)), 0o644)
}

func renderReport(rec entity.QuarantineRecord) string {
	var b []byte
	add := func(format string, args ...any) {
		b = append(b, fmt.Sprintf(format, args...)...)
	}
	add("QUARANTINE REPORT\n")
	add("=================\n\n")
	add("Document:   %s\n", rec.DocumentID)
	add("Source:     %s\n", rec.SourcePath)
	add("Failed at:  %s\n", rec.Stage)
	add("Reason:     %s\n", rec.Reason)
	add("Created:    %s\n\n", rec.CreatedAt.Format(time.RFC3339))
	add("Suggested remediation: %s\n\n", remediation(rec))
	add("Attempt history (%d):\n", len(rec.Attempts))
	for i, a := range rec.Attempts {
		add("  %2d. [%s] %s attempt=%d outcome=%s", i+1, a.Stage, a.Operation, a.Attempt, a.Outcome)
		if a.ErrorKind != "" {
			add(" kind=%s", a.ErrorKind)
		}
		if a.Detail != "" {
			add(" detail=%s", a.Detail)
		}
		add("\n")
	}
	return string(b)
}

func remediation(rec entity.QuarantineRecord) string {
	switch rec.Stage {
	case constants.StageIngest:
		return "verify the source PDF opens in a viewer; re-export it if corrupt"
	case constants.StageDetect, constants.StageExtractMetadata:
		return "check language-model service availability and credentials, then resubmit"
	case constants.StageGenerate, constants.StageOrganize:
		return "check disk space and permissions on the work and output directories"
	case constants.StageValidate:
		return "inspect the generated files against the source; consider lenient strictness if the mismatch is benign"
	default:
		return "inspect the attempt history below and resubmit after addressing the last fatal error"
	}
}
