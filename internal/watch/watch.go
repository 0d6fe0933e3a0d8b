// Package watch runs an inbox watcher: DICOM files dropped into a
// directory are picked up and put through the configured operation as
// they arrive.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/batch"
	"github.com/medimaging/dicom-sentinel/internal/codec"
)

// settleDelay is how long a new file must sit unchanged before it is
// processed. Writers drop files in chunks; acting on the first event
// would read a partial file.
const settleDelay = 500 * time.Millisecond

// Watcher feeds files appearing in an inbox directory to the
// orchestrator one at a time.
type Watcher struct {
	orchestrator *batch.Orchestrator
	operation    batch.Operation
	inbox        string
	outputDir    string
	logger       *zap.Logger
	onResult     func(batch.Result)
	onSummary    func(Summary)
}

// Summary aggregates the startup sweep of an inbox backlog.
type Summary struct {
	Discovered int
	Succeeded  int
	Failed     int
	Skipped    int
	Duration   time.Duration
}

// Config configures a Watcher.
type Config struct {
	Inbox     string
	OutputDir string
	Operation batch.Operation
	// OnResult, when set, receives the outcome of every processed file.
	OnResult func(batch.Result)
	// OnSummary, when set, receives the aggregate of the backlog swept
	// at startup. It is not called for an empty inbox.
	OnSummary func(Summary)
}

// New creates a watcher. The inbox and output directories are created
// if missing.
func New(orchestrator *batch.Orchestrator, cfg Config, logger *zap.Logger) (*Watcher, error) {
	if err := os.MkdirAll(cfg.Inbox, 0o755); err != nil {
		return nil, err
	}
	if cfg.Operation != batch.OperationValidate {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Watcher{
		orchestrator: orchestrator,
		operation:    cfg.Operation,
		inbox:        cfg.Inbox,
		outputDir:    cfg.OutputDir,
		logger:       logger,
		onResult:     cfg.OnResult,
		onSummary:    cfg.OnSummary,
	}, nil
}

// Run watches the inbox until the context is canceled. Files already in
// the inbox at startup are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.inbox); err != nil {
		return err
	}

	w.logger.Info("Watching inbox",
		zap.String("inbox", w.inbox),
		zap.String("operation", string(w.operation)))

	w.drainExisting(ctx)

	// Files are queued on write events and processed once no further
	// event arrives for settleDelay.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settleDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < settleDelay {
					continue
				}
				delete(pending, path)
				w.process(ctx, path)
			}
		}
	}
}

// drainExisting processes files that were already sitting in the inbox
// and reports their aggregate through OnSummary.
func (w *Watcher) drainExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		w.logger.Warn("Failed to list inbox", zap.Error(err))
		return
	}

	start := time.Now()
	var summary Summary
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		result, processed := w.process(ctx, filepath.Join(w.inbox, entry.Name()))
		if !processed {
			continue
		}
		summary.Discovered++
		switch {
		case result.Skipped:
			summary.Skipped++
		case result.Succeeded:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}
	summary.Duration = time.Since(start)

	if summary.Discovered > 0 {
		w.logger.Info("Inbox backlog swept",
			zap.Int("discovered", summary.Discovered),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped))
		if w.onSummary != nil {
			w.onSummary(summary)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) (batch.Result, bool) {
	if !codec.ProbeFile(path) {
		w.logger.Debug("Ignoring non-DICOM file", zap.String("path", path))
		return batch.Result{}, false
	}

	result := w.orchestrator.ProcessFile(ctx, batch.Job{
		InputPath: path,
		Operation: w.operation,
		OutputDir: w.outputDir,
	})

	if result.Succeeded {
		w.logger.Info("Inbox file processed",
			zap.String("path", path),
			zap.Strings("outputs", result.Outputs))
	} else if !result.Skipped {
		w.logger.Error("Inbox file failed",
			zap.String("path", path),
			zap.String("error_kind", string(result.ErrorKind)),
			zap.String("detail", result.Detail))
	}

	if w.onResult != nil {
		w.onResult(result)
	}
	return result, true
}
