// llmcheck probes the boundary-analysis endpoint with a real document: it
// extracts the first window of a PDF and calls the model repeatedly, logging
// every outcome. Useful for checking credentials, rate limits, and response
// quality before a batch run.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/detect"
	"github.com/finreports/stmtsplit/internal/llm"
	"github.com/finreports/stmtsplit/internal/llm/openai"
	"github.com/finreports/stmtsplit/internal/pdftext"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llmcheck <pdf> [times]")
		os.Exit(2)
	}
	path := os.Args[1]
	times := 3
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if cfg.LLM.APIKey == "" {
		logger.Error("LLM_API_KEY env var is required")
		os.Exit(2)
	}

	ctx := context.Background()
	pages, err := pdftext.NewExtractor(logger).Extract(ctx, path)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err)
		os.Exit(1)
	}
	windows := detect.BuildWindows(pages, cfg.Detect.WindowSize, cfg.Detect.WindowOverlap)
	if len(windows) == 0 {
		logger.Error("document has no pages to analyze", "path", path)
		os.Exit(1)
	}
	logger.Info("probe ready", "path", path, "pages", len(pages), "windows", len(windows))

	client := openai.NewClient(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	var ok, failed int
	for i := 0; i < times; i++ {
		start := time.Now()
		hints, _, err := client.AnalyzeWindow(ctx, windows[0])
		elapsed := time.Since(start)
		if err != nil {
			failed++
			logger.Error("probe call failed",
				"iteration", i+1, "elapsed_ms", elapsed.Milliseconds(),
				"kind", string(llm.ClassifyServiceError(err)), "error", err)
			continue
		}
		ok++
		logger.Info("probe call ok",
			"iteration", i+1, "elapsed_ms", elapsed.Milliseconds(),
			"boundaries", len(hints.Boundaries))
		for _, b := range hints.Boundaries {
			logger.Info("boundary", "start", b.StartPage, "end", b.EndPage, "bank", b.Bank, "confidence", b.Confidence)
		}
	}

	logger.Info("probe complete", "ok", ok, "failed", failed)
	if ok == 0 {
		os.Exit(1)
	}
}
