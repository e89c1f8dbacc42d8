// Package upload delivers finished statement files to a downstream system.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
)

// Result reports a delivery outcome per statement. A delivery can partially
// succeed; callers decide how to treat the remainder.
type Result struct {
	Delivered []uuid.UUID
	Failed    map[uuid.UUID]string
}

// AllDelivered reports whether every statement went through.
func (r Result) AllDelivered() bool { return len(r.Failed) == 0 }

// Client hands generated statements off to a downstream consumer.
type Client interface {
	Deliver(ctx context.Context, doc *entity.Document, stmts []entity.Statement) (Result, error)
}

// NoopClient accepts everything. Used when no handoff endpoint is configured.
type NoopClient struct{}

func (NoopClient) Deliver(_ context.Context, _ *entity.Document, stmts []entity.Statement) (Result, error) {
	res := Result{Failed: map[uuid.UUID]string{}}
	for _, s := range stmts {
		if s.OutputPath != "" {
			res.Delivered = append(res.Delivered, s.ID)
		}
	}
	return res, nil
}

// HTTPClient posts each statement file as multipart form data.
type HTTPClient struct {
	endpoint string
	hc       *http.Client
	logger   *slog.Logger
}

func NewHTTPClient(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Deliver posts statements one at a time so a single bad file does not sink
// the batch. Failures are collected in the result rather than returned,
// except for context cancellation which aborts immediately.
func (c *HTTPClient) Deliver(ctx context.Context, doc *entity.Document, stmts []entity.Statement) (Result, error) {
	res := Result{Failed: map[uuid.UUID]string{}}
	for _, s := range stmts {
		if s.OutputPath == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, common.NewAppError(common.KindCancelled, "handoff cancelled", err)
		}
		if err := c.postOne(ctx, doc, s); err != nil {
			c.logger.Warn("handoff.statement_failed",
				"doc_id", doc.ID, "statement_id", s.ID, "error", err)
			res.Failed[s.ID] = err.Error()
			continue
		}
		res.Delivered = append(res.Delivered, s.ID)
	}
	c.logger.Info("handoff.done",
		"doc_id", doc.ID, "delivered", len(res.Delivered), "failed", len(res.Failed))
	return res, nil
}

func (c *HTTPClient) postOne(ctx context.Context, doc *entity.Document, s entity.Statement) error {
	f, err := os.Open(s.OutputPath)
	if err != nil {
		return common.WrapError(err, "open statement file")
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(s.OutputPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	_ = mw.WriteField("document_id", doc.ID.String())
	_ = mw.WriteField("statement_id", s.ID.String())
	_ = mw.WriteField("bank", s.Metadata.Bank)
	_ = mw.WriteField("period", s.Metadata.Period)
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return common.NewAppError(common.KindTransient, "handoff request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("handoff endpoint returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
