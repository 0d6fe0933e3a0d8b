package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/anonymize"
	"github.com/medimaging/dicom-sentinel/internal/batch"
	"github.com/medimaging/dicom-sentinel/internal/config"
	"github.com/medimaging/dicom-sentinel/internal/imaging"
	"github.com/medimaging/dicom-sentinel/internal/logger"
	"github.com/medimaging/dicom-sentinel/internal/render"
	"github.com/medimaging/dicom-sentinel/internal/watch"
	"github.com/medimaging/dicom-sentinel/internal/web"
	"github.com/medimaging/dicom-sentinel/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("DICOM-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting DICOM-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	server, err := web.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Watch.Enabled {
		if err := startWatcher(ctx, cfg, log, server.GetWebSocketHub()); err != nil {
			log.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// startWatcher wires the inbox watcher to the live event feed.
func startWatcher(ctx context.Context, cfg *config.Config, log *logger.Logger, hub *websocket.Hub) error {
	rules := anonymize.DefaultRules()
	if err := rules.ApplyOverrides(cfg.Anonymize.RuleOverrides); err != nil {
		return err
	}
	engine := anonymize.New(rules, log.WithComponent("anonymize"))

	operation, err := batch.ParseOperation(cfg.Watch.Operation)
	if err != nil {
		return err
	}

	format, err := imaging.ParseFormat(cfg.Render.Format)
	if err != nil {
		return err
	}

	orchestrator := batch.New(engine, batch.Options{
		Workers: 1,
		RenderRequest: render.RenderRequest{
			BitDepth: cfg.Render.BitDepth,
		},
		ImageFormat: format,
	}, log.WithComponent("batch").Logger)

	watcher, err := watch.New(orchestrator, watch.Config{
		Inbox:     cfg.Watch.Inbox,
		OutputDir: cfg.Watch.OutputDir,
		Operation: operation,
		OnResult: func(result batch.Result) {
			hub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeFileProcessed,
				Timestamp: time.Now(),
				Data: websocket.FileProcessedEvent{
					Path:      result.Path,
					Operation: string(result.Operation),
					Succeeded: result.Succeeded,
					Skipped:   result.Skipped,
					ErrorKind: string(result.ErrorKind),
					Detail:    result.Detail,
					Outputs:   result.Outputs,
				},
			})
		},
		OnSummary: func(summary watch.Summary) {
			hub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeBatchSummary,
				Timestamp: time.Now(),
				Data: websocket.BatchSummaryEvent{
					Root:       cfg.Watch.Inbox,
					Operation:  string(operation),
					Discovered: summary.Discovered,
					Succeeded:  summary.Succeeded,
					Failed:     summary.Failed,
					Skipped:    summary.Skipped,
					DurationMS: float64(summary.Duration.Milliseconds()),
				},
			})
		},
	}, log.WithComponent("watch").Logger)
	if err != nil {
		return err
	}

	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("Inbox watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
