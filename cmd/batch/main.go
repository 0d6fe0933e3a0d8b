package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/anonymize"
	"github.com/medimaging/dicom-sentinel/internal/audit"
	"github.com/medimaging/dicom-sentinel/internal/batch"
	"github.com/medimaging/dicom-sentinel/internal/cache"
	"github.com/medimaging/dicom-sentinel/internal/codec"
	"github.com/medimaging/dicom-sentinel/internal/config"
	"github.com/medimaging/dicom-sentinel/internal/dump"
	"github.com/medimaging/dicom-sentinel/internal/imaging"
	"github.com/medimaging/dicom-sentinel/internal/logger"
	"github.com/medimaging/dicom-sentinel/internal/metadata"
	"github.com/medimaging/dicom-sentinel/internal/render"
	"github.com/medimaging/dicom-sentinel/internal/report"
	"github.com/medimaging/dicom-sentinel/internal/validate"
)

func main() {
	var (
		configPath    = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile     = flag.String("file", "", "Single DICOM file to process")
		inputDir      = flag.String("dir", "", "Directory tree to process as a batch")
		operation     = flag.String("operation", "info", "Operation: info, dump, stats, histogram, validate, anonymize, or render")
		outputDir     = flag.String("output", "out", "Output directory for produced files")
		workers       = flag.Int("workers", 0, "Worker count, 0 uses hardware parallelism")
		rateLimit     = flag.Float64("rate-limit", 0, "Max files dispatched per second, 0 disables")
		skipProcessed = flag.Bool("skip-processed", false, "Skip files recorded in the processed-file ledger")
		frame         = flag.Int("frame", -1, "Frame index to render, -1 renders all frames")
		windowCenter  = flag.Float64("window-center", 0, "VOI window center override")
		windowWidth   = flag.Float64("window-width", 0, "VOI window width override, 0 keeps the embedded window")
		bitDepth      = flag.Int("bit-depth", 0, "Output bit depth, 8 or 16")
		format        = flag.String("format", "", "Raster output format, png or jpeg")
		bins          = flag.Int("bins", 0, "Histogram bin count")
		rules         = flag.String("rules", "", "Semicolon-separated anonymization overrides, e.g. 0010,0020=hash;0008,0050=zero")
		reportJSON    = flag.String("report-json", "", "Write the batch report as JSON to this path")
		reportParquet = flag.String("report-parquet", "", "Write per-file results as Parquet to this path")
	)
	flag.Parse()

	if *inputFile == "" && *inputDir == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --file scan.dcm --operation info\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --file scan.dcm --operation render --window-center 40 --window-width 400\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir ./study --operation anonymize --output ./anon\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir ./study --operation render --workers 8 --report-json report.json\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// CLI flags override config file values.
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *rateLimit > 0 {
		cfg.Batch.RateLimit = *rateLimit
	}
	if *skipProcessed {
		cfg.Batch.SkipProcessed = true
	}
	if *bitDepth > 0 {
		cfg.Render.BitDepth = *bitDepth
	}
	if *format != "" {
		cfg.Render.Format = *format
	}
	if *bins > 0 {
		cfg.Render.HistogramBins = *bins
	}
	if *rules != "" {
		cfg.Anonymize.RuleOverrides = append(cfg.Anonymize.RuleOverrides, strings.Split(*rules, ";")...)
	}

	var window *render.Window
	if *windowWidth > 0 {
		window = &render.Window{Center: *windowCenter, Width: *windowWidth}
	}

	var frameSel *int
	if *frame >= 0 {
		frameSel = render.Frame(*frame)
	}

	if *inputFile != "" {
		if err := runSingle(cfg, log, *inputFile, *operation, *outputDir, frameSel, window); err != nil {
			log.Fatal("Operation failed", zap.String("file", *inputFile), zap.Error(err))
		}
		return
	}

	if err := runBatch(ctx, cfg, log, *inputDir, *operation, *outputDir, frameSel, window, *reportJSON, *reportParquet); err != nil {
		log.Fatal("Batch run failed", zap.Error(err))
	}
}

// runSingle applies one operation to one file and prints the outcome.
func runSingle(cfg *config.Config, log *logger.Logger, path, op, outputDir string, frame *int, window *render.Window) error {
	file, err := codec.Open(path)
	if err != nil {
		return err
	}

	switch op {
	case "info":
		return printJSON(metadata.Summarize(file.Data, file.TransferSyntax()))

	case "dump":
		fmt.Print(dump.DataSet(file.Data, dump.DefaultOptions()))
		return nil

	case "stats":
		desc, payload, err := render.FromDataSet(file.Data)
		if err != nil {
			return err
		}
		stats, err := render.ComputeStatistics(payload, desc)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "histogram":
		desc, payload, err := render.FromDataSet(file.Data)
		if err != nil {
			return err
		}
		hist, err := render.ComputeHistogram(payload, desc, cfg.Render.HistogramBins, frame)
		if err != nil {
			return err
		}
		return printJSON(hist)

	case "validate":
		rep := validate.Check(file.Data)
		if err := printJSON(rep); err != nil {
			return err
		}
		return rep.Err()

	case "anonymize":
		engine, err := buildEngine(cfg, log)
		if err != nil {
			return err
		}
		result, err := engine.Anonymize(file.Data)
		if err != nil {
			return err
		}
		for _, warning := range result.Warnings {
			log.Warn("Anonymization fallback", zap.String("warning", warning.String()))
		}
		file.Data = result.DataSet

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		outPath := filepath.Join(outputDir, stem+"_anon.dcm")
		if err := codec.Save(outPath, file); err != nil {
			return err
		}
		log.Info("Anonymized file written",
			zap.String("output", outPath),
			zap.Int("redacted", result.Redacted))
		return nil

	case "render":
		desc, payload, err := render.FromDataSet(file.Data)
		if err != nil {
			return err
		}
		imageFormat, err := imaging.ParseFormat(cfg.Render.Format)
		if err != nil {
			return err
		}
		frames, err := render.Render(payload, desc, render.RenderRequest{
			BitDepth: cfg.Render.BitDepth,
			Window:   window,
			Frame:    frame,
		})
		if err != nil {
			return err
		}

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for _, rendered := range frames {
			encoded, err := imaging.Encode(rendered, imageFormat)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s.%s", stem, imageFormat.Extension())
			if len(frames) > 1 {
				name = fmt.Sprintf("%s_frame%03d.%s", stem, rendered.Index, imageFormat.Extension())
			}
			outPath := filepath.Join(outputDir, name)
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return err
			}
			log.Info("Frame written", zap.String("output", outPath))
		}
		return nil
	}

	return fmt.Errorf("unknown operation: %q", op)
}

// runBatch processes a directory tree on the worker pool, wiring the
// optional ledger, audit trail, and report outputs.
func runBatch(ctx context.Context, cfg *config.Config, log *logger.Logger, dir, op, outputDir string, frame *int, window *render.Window, reportJSON, reportParquet string) error {
	operation, err := batch.ParseOperation(op)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}

	imageFormat, err := imaging.ParseFormat(cfg.Render.Format)
	if err != nil {
		return err
	}

	opts := batch.Options{
		Workers:       cfg.Batch.Workers,
		RateLimit:     cfg.Batch.RateLimit,
		SkipProcessed: cfg.Batch.SkipProcessed,
		RenderRequest: render.RenderRequest{
			BitDepth: cfg.Render.BitDepth,
			Window:   window,
			Frame:    frame,
		},
		ImageFormat: imageFormat,
		OnResult: func(result batch.Result) {
			if !result.Succeeded && !result.Skipped {
				log.Warn("File failed",
					zap.String("path", result.Path),
					zap.String("error_kind", string(result.ErrorKind)),
					zap.String("detail", result.Detail))
			}
		},
	}

	if cfg.Batch.SkipProcessed && cfg.Cache.Enabled {
		ledger, err := cache.NewProcessedLedger(&cache.Config{
			RedisURL:  cfg.Cache.RedisURL,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			return fmt.Errorf("failed to open processed-file ledger: %w", err)
		}
		defer ledger.Close()
		opts.Ledger = ledger
	}

	orchestrator := batch.New(engine, opts, log.WithComponent("batch").Logger)

	rep, err := orchestrator.Run(ctx, dir, operation, outputDir)
	if err != nil {
		return err
	}

	log.Info("Batch run completed",
		zap.Int("discovered", rep.Discovered),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
		zap.Duration("duration", rep.Duration))

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(&audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		}, log.WithComponent("audit").Logger)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		defer store.Close()

		runID, err := store.RecordRun(context.Background(), rep)
		if err != nil {
			return fmt.Errorf("failed to record audit trail: %w", err)
		}
		log.Info("Audit trail recorded", zap.Int64("run_id", runID))
	}

	if reportJSON != "" {
		if err := report.WriteJSON(rep, reportJSON); err != nil {
			return err
		}
		log.Info("JSON report written", zap.String("path", reportJSON))
	}
	if reportParquet != "" {
		if err := report.WriteParquet(rep, reportParquet); err != nil {
			return err
		}
		log.Info("Parquet report written", zap.String("path", reportParquet))
	}

	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", rep.Failed, rep.Dispatched)
	}
	return nil
}

func buildEngine(cfg *config.Config, log *logger.Logger) (*anonymize.Engine, error) {
	rules := anonymize.DefaultRules()
	if err := rules.ApplyOverrides(cfg.Anonymize.RuleOverrides); err != nil {
		return nil, err
	}
	return anonymize.New(rules, log.WithComponent("anonymize")), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
