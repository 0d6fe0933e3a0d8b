// Package batch walks a directory tree, identifies DICOM files by content
// probe, and fans the selected operation out across a bounded worker
// pool. Each file succeeds or fails on its own; results flow through a
// single aggregation point into the final report.
package batch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/medimaging/dicom-sentinel/internal/anonymize"
	"github.com/medimaging/dicom-sentinel/internal/codec"
	"github.com/medimaging/dicom-sentinel/internal/imaging"
	"github.com/medimaging/dicom-sentinel/internal/render"
	"github.com/medimaging/dicom-sentinel/internal/validate"
)

// Options tunes one orchestrator instance.
type Options struct {
	// Workers bounds the pool; 0 means the available hardware
	// parallelism.
	Workers int
	// RateLimit caps job dispatch in files per second; 0 disables it.
	RateLimit float64
	// SkipProcessed consults the Ledger before dispatching work.
	SkipProcessed bool
	// RenderRequest applies to render jobs.
	RenderRequest render.RenderRequest
	// ImageFormat selects the raster output encoding for render jobs.
	ImageFormat imaging.Format
	// Ledger is optional; nil disables skip tracking.
	Ledger Ledger
	// OnResult, when set, observes every result as it is aggregated. It
	// is invoked from the single aggregation goroutine.
	OnResult func(Result)
}

// Orchestrator runs batch operations over directory trees.
type Orchestrator struct {
	engine *anonymize.Engine
	opts   Options
	logger *zap.Logger
}

// New creates a batch orchestrator.
func New(engine *anonymize.Engine, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.RenderRequest.BitDepth == 0 {
		opts.RenderRequest.BitDepth = 8
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = imaging.FormatPNG
	}
	return &Orchestrator{engine: engine, opts: opts, logger: logger}
}

// Run discovers candidate files under root and applies the operation to
// each on the worker pool. A per-file error is recorded and never stops
// the batch; an unreadable root is fatal and returns with zero jobs
// dispatched. Cancelling the context stops dispatch of queued jobs while
// running jobs finish, so no partial output is left behind.
func (o *Orchestrator) Run(ctx context.Context, root string, op Operation, outputDir string) (*Report, error) {
	start := time.Now()

	inputs, err := o.discover(root)
	if err != nil {
		return nil, fmt.Errorf("discovering inputs under %s: %w", root, err)
	}

	o.logger.Info("batch run starting",
		zap.String("root", root),
		zap.String("operation", string(op)),
		zap.Int("discovered", len(inputs)),
		zap.Int("workers", o.opts.Workers))

	if op != OperationValidate {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	report := &Report{
		Root:       root,
		Operation:  op,
		Discovered: len(inputs),
		Failures:   []Failure{},
	}

	jobs := make(chan Job)
	results := make(chan Result)

	var limiter *rate.Limiter
	if o.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.opts.RateLimit), 1)
	}

	// Dispatcher. Cancellation is best effort: queued jobs stop being
	// handed out, in-flight jobs run to completion.
	dispatched := 0
	go func() {
		defer close(jobs)
		for _, path := range inputs {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- Job{InputPath: path, Operation: op, OutputDir: outputDir}:
				dispatched++
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- o.ProcessFile(ctx, job)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// The single aggregation point; no other state is shared between
	// workers.
	for result := range results {
		report.Results = append(report.Results, result)
		switch {
		case result.Skipped:
			report.Skipped++
		case result.Succeeded:
			report.Succeeded++
		default:
			report.Failed++
			report.Failures = append(report.Failures, Failure{
				Path:   result.Path,
				Kind:   result.ErrorKind,
				Detail: result.Detail,
			})
		}
		if o.opts.OnResult != nil {
			o.opts.OnResult(result)
		}
	}

	report.Dispatched = dispatched
	report.Duration = time.Since(start)

	o.logger.Info("batch run completed",
		zap.Int("discovered", report.Discovered),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// discover walks the tree and keeps regular files that probe as DICOM.
// Selection is by content, not extension, since clinical archives often
// drop the suffix.
func (o *Orchestrator) discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var inputs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			o.logger.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if codec.ProbeFile(path) {
			inputs = append(inputs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inputs, nil
}

// ProcessFile runs one job to completion and reports its result. It is
// safe for concurrent use; all state is local to the call.
func (o *Orchestrator) ProcessFile(ctx context.Context, job Job) Result {
	start := time.Now()
	result := Result{Path: job.InputPath, Operation: job.Operation}

	data, err := os.ReadFile(job.InputPath)
	if err != nil {
		return o.fail(result, ErrorKindIO, err, start)
	}

	contentKey := ""
	if o.opts.SkipProcessed && o.opts.Ledger != nil {
		digest := sha256.Sum256(data)
		contentKey = hex.EncodeToString(digest[:])
		seen, err := o.opts.Ledger.Seen(ctx, contentKey)
		if err != nil {
			o.logger.Warn("ledger lookup failed, processing anyway",
				zap.String("file", job.InputPath), zap.Error(err))
		} else if seen {
			result.Skipped = true
			result.Duration = time.Since(start)
			return result
		}
	}

	file, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return o.fail(result, classify(err), err, start)
	}

	switch job.Operation {
	case OperationAnonymize:
		result, err = o.anonymizeFile(file, job, result)
	case OperationRender:
		result, err = o.renderFile(file, job, result)
	case OperationValidate:
		report := validate.Check(file.Data)
		err = report.Err()
		if err != nil {
			return o.fail(result, ErrorKindValidation, err, start)
		}
	default:
		err = fmt.Errorf("unknown operation %q", job.Operation)
	}
	if err != nil {
		return o.fail(result, classify(err), err, start)
	}

	result.Succeeded = true
	result.Duration = time.Since(start)

	if contentKey != "" {
		if err := o.opts.Ledger.Mark(ctx, contentKey, string(job.Operation)); err != nil {
			o.logger.Warn("ledger update failed", zap.String("file", job.InputPath), zap.Error(err))
		}
	}
	return result
}

func (o *Orchestrator) anonymizeFile(file *codec.File, job Job, result Result) (Result, error) {
	anonymized, err := o.engine.Anonymize(file.Data)
	if err != nil {
		return result, err
	}
	for _, warning := range anonymized.Warnings {
		result.Notes = append(result.Notes, warning.String())
	}

	outPath := filepath.Join(job.OutputDir, outputStem(job.InputPath)+"_anon.dcm")
	var buf bytes.Buffer
	if err := codec.Encode(&buf, &codec.File{Meta: file.Meta, Data: anonymized.DataSet}); err != nil {
		return result, err
	}
	if err := writeAtomic(outPath, buf.Bytes()); err != nil {
		return result, err
	}
	result.Outputs = append(result.Outputs, outPath)
	return result, nil
}

func (o *Orchestrator) renderFile(file *codec.File, job Job, result Result) (Result, error) {
	desc, payload, err := render.FromDataSet(file.Data)
	if err != nil {
		if errors.Is(err, render.ErrNoPixelData) {
			return result, &render.UnsupportedFormatError{Reason: "no pixel data"}
		}
		return result, err
	}

	frames, err := render.Render(payload, desc, o.opts.RenderRequest)
	if err != nil {
		return result, err
	}

	stem := outputStem(job.InputPath)
	ext := o.opts.ImageFormat.Extension()
	for _, frame := range frames {
		name := fmt.Sprintf("%s.%s", stem, ext)
		if len(frames) > 1 {
			name = fmt.Sprintf("%s_frame%03d.%s", stem, frame.Index, ext)
		}
		encoded, err := imaging.Encode(frame, o.opts.ImageFormat)
		if err != nil {
			return result, err
		}
		outPath := filepath.Join(job.OutputDir, name)
		if err := writeAtomic(outPath, encoded); err != nil {
			return result, err
		}
		result.Outputs = append(result.Outputs, outPath)
	}
	return result, nil
}

func (o *Orchestrator) fail(result Result, kind ErrorKind, err error, start time.Time) Result {
	result.ErrorKind = kind
	result.Detail = err.Error()
	result.Duration = time.Since(start)
	o.logger.Warn("file processing failed",
		zap.String("file", result.Path),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return result
}

// classify maps an error to its report kind.
func classify(err error) ErrorKind {
	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		return ErrorKindDecode
	}
	var integrityErr *render.IntegrityError
	if errors.As(err, &integrityErr) {
		return ErrorKindIntegrity
	}
	var unsupportedErr *render.UnsupportedFormatError
	if errors.As(err, &unsupportedErr) {
		return ErrorKindUnsupported
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ErrorKindIO
	}
	return ErrorKindInternal
}

// writeAtomic writes to a temp file in the target directory and renames
// it into place, so a job either leaves a complete output or none.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sentinel-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func outputStem(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
