package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finreports/stmtsplit/internal/llm"
)

// AnalyzeWindow implements llm.Analyzer using text-only chat/completions.
// The response is schema-validated strictly first; on failure a lenient
// sanitize pass runs and the result is re-validated before acceptance.
func (c *Client) AnalyzeWindow(ctx context.Context, req llm.WindowRequest) (llm.BoundaryHints, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	first, last := 0, 0
	if len(req.Pages) > 0 {
		first, last = req.Pages[0].Index, req.Pages[len(req.Pages)-1].Index
	}
	c.log.Info("llm.analyze.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"window", req.WindowIndex,
		"pages", fmt.Sprintf("%d-%d", first, last),
	)

	schema := llm.BuildBoundariesJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": boundariesSystemPrompt},
			{"role": "user", "content": buildWindowPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	content, err := c.complete(ctx, rid, body)
	if err != nil {
		c.log.Error("llm.analyze.http_error",
			"req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.BoundaryHints{}, nil, err
	}

	rawContent, err := llm.ExtractJSONObject(content)
	if err != nil {
		return llm.BoundaryHints{}, content, &llm.ParseError{Cause: err}
	}
	if vErr := llm.ValidateJSONAgainstSchema(schema, rawContent); vErr != nil {
		cleaned, dropped, sErr := llm.SanitizeBoundaries(rawContent)
		if sErr != nil {
			c.log.Error("llm.analyze.sanitize_failed", "req_id", rid, "error", sErr)
			return llm.BoundaryHints{}, rawContent, &llm.ParseError{Cause: sErr}
		}
		if vErr2 := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr2 != nil {
			c.log.Error("llm.analyze.schema_validation_failed",
				"req_id", rid, "error", vErr2, "content", string(rawContent))
			return llm.BoundaryHints{}, rawContent, &llm.ParseError{Cause: vErr2}
		}
		c.log.Warn("llm.analyze.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
		rawContent = cleaned
	}

	var out llm.BoundaryHints
	if err := json.Unmarshal(rawContent, &out); err != nil {
		return llm.BoundaryHints{}, rawContent, &llm.ParseError{Cause: err}
	}

	c.log.Info("llm.analyze.ok",
		"req_id", rid,
		"window", req.WindowIndex,
		"boundaries", len(out.Boundaries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

// ExtractMetadata implements llm.Analyzer for per-statement metadata.
func (c *Client) ExtractMetadata(ctx context.Context, req llm.MetadataRequest) (llm.StatementFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.metadata.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"pages", fmt.Sprintf("%d-%d", req.StartPage, req.EndPage),
		"text_len", len(req.Text),
	)

	schema := llm.BuildMetadataJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": metadataSystemPrompt},
			{"role": "user", "content": buildMetadataPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	content, err := c.complete(ctx, rid, body)
	if err != nil {
		c.log.Error("llm.metadata.http_error",
			"req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.StatementFields{}, nil, err
	}

	rawContent, err := llm.ExtractJSONObject(content)
	if err != nil {
		return llm.StatementFields{}, content, &llm.ParseError{Cause: err}
	}
	if vErr := llm.ValidateJSONAgainstSchema(schema, rawContent); vErr != nil {
		cleaned, dropped, sErr := llm.SanitizeMetadataFields(rawContent)
		if sErr != nil {
			return llm.StatementFields{}, rawContent, &llm.ParseError{Cause: sErr}
		}
		if vErr2 := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr2 != nil {
			c.log.Error("llm.metadata.schema_validation_failed",
				"req_id", rid, "error", vErr2, "content", string(rawContent))
			return llm.StatementFields{}, rawContent, &llm.ParseError{Cause: vErr2}
		}
		c.log.Warn("llm.metadata.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
		rawContent = cleaned
	}

	var out llm.StatementFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		return llm.StatementFields{}, rawContent, &llm.ParseError{Cause: err}
	}

	c.log.Info("llm.metadata.ok",
		"req_id", rid,
		"bank", out.Bank, "account", maskAccount(out.Account), "period", out.Period,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

// complete runs one chat/completions round trip and returns the first
// choice's content.
func (c *Client) complete(ctx context.Context, rid string, body map[string]any) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, &llm.ParseError{Cause: fmt.Errorf("decode completion: %w", err)}
	}
	if len(cc.Choices) == 0 {
		return nil, &llm.ParseError{Cause: fmt.Errorf("no choices in completion")}
	}
	return []byte(strings.TrimSpace(cc.Choices[0].Message.Content)), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("service http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("llm.response_body_close_error", "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &llm.StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 2048)}
	}
	return raw, nil
}

const boundariesSystemPrompt = "You are a bank statement boundary detector. " +
	"The input is a window of consecutive PDF pages, each tagged with its absolute page number. " +
	"Identify every complete or partial financial statement in the window and report its " +
	"absolute start_page and end_page (inclusive). A statement starts where a new statement " +
	"header appears (bank name, account number, statement period). " +
	"Report bank, account and period only when they are visible; omit fields you cannot read. " +
	"Use ISO periods: YYYY-MM or YYYY-MM-DD..YYYY-MM-DD. Never output null."

const metadataSystemPrompt = "You are a bank statement metadata extractor. " +
	"Extract the bank name, account identifier and statement period from the statement text. " +
	"Omit any field that is not present; never guess and never output null. " +
	"Use ISO periods: YYYY-MM or YYYY-MM-DD..YYYY-MM-DD."

func buildWindowPrompt(req llm.WindowRequest) string {
	var b strings.Builder
	for _, p := range req.Pages {
		fmt.Fprintf(&b, "=== PAGE %d ===\n", p.Index)
		b.WriteString(clip(p.Text, 3000))
		b.WriteByte('\n')
	}
	return b.String()
}

func buildMetadataPrompt(req llm.MetadataRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Statement spanning pages %d-%d.\n\nText (first ~4k chars):\n", req.StartPage, req.EndPage)
	b.WriteString(clip(req.Text, 4000))
	return b.String()
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func maskAccount(s string) string {
	if len(s) <= 4 {
		return s
	}
	return "****" + s[len(s)-4:]
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
