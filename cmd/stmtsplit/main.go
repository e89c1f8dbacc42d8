package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/finreports/stmtsplit/internal/async"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/detect"
	"github.com/finreports/stmtsplit/internal/export"
	"github.com/finreports/stmtsplit/internal/ingest"
	"github.com/finreports/stmtsplit/internal/llm/openai"
	"github.com/finreports/stmtsplit/internal/metadata"
	"github.com/finreports/stmtsplit/internal/pdfgen"
	"github.com/finreports/stmtsplit/internal/pdftext"
	"github.com/finreports/stmtsplit/internal/pipeline"
	"github.com/finreports/stmtsplit/internal/quarantine"
	"github.com/finreports/stmtsplit/internal/ratelimit"
	"github.com/finreports/stmtsplit/internal/retry"
	"github.com/finreports/stmtsplit/internal/upload"
	"github.com/finreports/stmtsplit/internal/validate"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file     = flag.String("file", "", "single PDF of concatenated statements to split")
		dir      = flag.String("dir", "", "directory of PDFs to split as a batch")
		out      = flag.String("out", "", "output directory (overrides OUTPUT_DIR)")
		summary  = flag.String("summary", "", "batch summary XLSX path (optional, defaults next to output dir)")
		endpoint = flag.String("endpoint", "", "downstream handoff URL (optional, files stay local when empty)")
		workers  = flag.Int("workers", 0, "worker count for batch mode (overrides PIPELINE_WORKERS)")
		watch    = flag.Bool("watch", false, "with --dir, keep watching for new PDFs until interrupted")
	)
	flag.Parse()

	if (*file == "") == (*dir == "") {
		printError("Error: exactly one of --file or --dir is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()
	if *out != "" {
		cfg.Output.OutputDir = *out
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.LLM.APIKey == "" {
		logger.Warn("LLM API key not configured, boundary detection will rely on patterns")
	}

	patterns := detect.DefaultPatterns()
	if cfg.Detect.PatternsFile != "" {
		p, err := detect.LoadPatterns(cfg.Detect.PatternsFile)
		if err != nil {
			logger.Error("failed to load patterns file", "path", cfg.Detect.PatternsFile, "error", err)
			os.Exit(1)
		}
		patterns = p
	}

	analyzer := openai.NewClient(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	budget := ratelimit.NewBudget(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate, time.Now)
	backoff := retry.NewBackoff(cfg.Backoff.BaseDelay, cfg.Backoff.MaxDelay, cfg.Backoff.MaxAttempts, rand.Float64)
	invoker := retry.NewInvoker(budget, backoff, cfg.RateLimit.AcquireTimeout, logger)

	store, err := quarantine.Open(cfg.Output.QuarantineDir, logger)
	if err != nil {
		logger.Error("failed to open quarantine store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	var handoff upload.Client = upload.NoopClient{}
	if *endpoint != "" {
		handoff = upload.NewHTTPClient(*endpoint, cfg.LLM.Timeout, logger)
		logger.Info("handoff endpoint configured", "endpoint", *endpoint)
	}

	pipe := pipeline.New(cfg,
		pdftext.NewExtractor(logger),
		detect.NewDetector(analyzer, invoker, patterns, cfg.Detect, logger),
		detect.NewClassifier(patterns, cfg.Detect, logger),
		metadata.NewExtractor(analyzer, invoker, patterns, logger),
		pdfgen.NewGenerator(cfg.Output.WorkDir, logger),
		pdfgen.Organize,
		validate.NewValidator(cfg.Validation.Strictness, cfg.Validation.SizeTolerance, nil, logger),
		store,
		handoff,
		logger,
	)

	if *file != "" {
		res, err := pipe.Process(ctx, *file)
		if err != nil {
			logger.Error("pipeline run failed", "source", *file, "error", err)
			os.Exit(1)
		}
		printResult(res)
		if res.Quarantined() {
			fmt.Printf("Triage report: %s\n", store.ReportPath(res.Document.ID))
			os.Exit(2)
		}
		return
	}

	queue := async.NewDocumentQueue(pipe, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)

	var enqueued int
	if *watch {
		enqueued = watchAndEnqueue(ctx, *dir, queue, logger)
	} else {
		sources, err := ingest.ScanDirectory(*dir)
		if err != nil {
			logger.Error("failed to scan input directory", "dir", *dir, "error", err)
			os.Exit(1)
		}
		if len(sources) == 0 {
			printError("Error: no PDF files found in %s\n", *dir)
			os.Exit(1)
		}
		logger.Info("starting batch", "dir", *dir, "files", len(sources), "workers", cfg.Pipeline.Workers)
		for _, src := range sources {
			_ = queue.Enqueue(ctx, async.Job{SourcePath: src})
		}
		enqueued = len(sources)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(enqueued+1)*cfg.Pipeline.ProcessTimeout)
	queue.Shutdown(drainCtx)
	cancel()

	results := queue.Results()
	summaryPath := *summary
	if summaryPath == "" {
		summaryPath = filepath.Join(filepath.Dir(cfg.Output.OutputDir), "batch_summary.xlsx")
	}
	if err := export.NewService(logger).WriteSummary(summaryPath, results); err != nil {
		logger.Error("failed to write batch summary", "error", err)
		os.Exit(1)
	}

	var handedOff, quarantined, statements int
	for _, res := range results {
		if res.Quarantined() {
			quarantined++
		} else {
			handedOff++
		}
		statements += len(res.Statements)
	}

	logger.Info("batch complete",
		"files", enqueued,
		"handed_off", handedOff,
		"quarantined", quarantined,
		"statements", statements,
		"run_errors", len(queue.FailedSources()),
		"summary", summaryPath)

	fmt.Printf("Batch complete!\n")
	fmt.Printf("- Files processed: %d\n", len(results))
	fmt.Printf("- Handed off: %d\n", handedOff)
	fmt.Printf("- Quarantined: %d\n", quarantined)
	fmt.Printf("- Statements produced: %d\n", statements)
	fmt.Printf("- Summary: %s\n", summaryPath)
	if quarantined > 0 || len(queue.FailedSources()) > 0 {
		os.Exit(2)
	}
}

func printResult(res *pipeline.Result) {
	fmt.Printf("Document %s: %s\n", res.Document.ID, res.FinalStage)
	if res.Quarantined() {
		fmt.Printf("- Reason: %s\n", res.Reason)
		return
	}
	for _, s := range res.Statements {
		label := s.OutputPath
		if s.IsFragment {
			label = "(fragment, not generated)"
		}
		fmt.Printf("- pages %d-%d  %s  %s  %s\n",
			s.StartPage, s.EndPage, s.Metadata.Bank, s.Metadata.Period, label)
	}
	if res.Degraded {
		fmt.Printf("- NOTE: boundaries derived from patterns, model service was unavailable\n")
	}
}

// watchAndEnqueue feeds the queue from a directory watcher until the process
// is interrupted. Returns the number of jobs enqueued.
func watchAndEnqueue(ctx context.Context, dir string, queue *async.DocumentQueue, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
		Debounce:    2 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to start watcher", "dir", dir, "error", err)
		os.Exit(1)
	}

	seen := map[string]struct{}{}
	enqueued := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch mode interrupted, draining queue", "enqueued", enqueued)
			return enqueued
		case path, ok := <-events:
			if !ok {
				return enqueued
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			_ = queue.Enqueue(ctx, async.Job{SourcePath: path})
			enqueued++
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
