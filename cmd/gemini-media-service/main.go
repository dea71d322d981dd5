// main package for the gemini-media-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/gemini-media-service/internal/config"
	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/httpapi"
	"github.com/book-expert/gemini-media-service/internal/objectstore"
	"github.com/book-expert/gemini-media-service/internal/pipeline"
	"github.com/book-expert/gemini-media-service/internal/transport"
	"github.com/book-expert/gemini-media-service/internal/worker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	logFileName       = "gemini-media-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "gemini-media-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	_ = bootstrapLog.Close()

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	apiKey := cfg.APIKey()
	if apiKey == "" {
		finalLog.Warn("Environment variable %s is empty; every request must carry its own credential", cfg.Gemini.APIKeyEnv)
	}

	// 4. Build the pipeline
	client := gemini.NewClient(transport.NewClient(cfg.Timeout()), cfg.ClientConfig(), finalLog)
	runner := pipeline.NewRunner(client, cfg, finalLog)

	// 5. Connect to NATS and bind the object store buckets
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mediaStore, err := objectstore.New(jetstreamContext, cfg.NATS.MediaBucket)
	if err != nil {
		return fmt.Errorf("failed to bind media bucket: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return fmt.Errorf("failed to bind audio bucket: %w", err)
	}

	finalLog.Info("Bound media bucket %s and audio bucket %s", mediaStore.Bucket(), audioStore.Bucket())

	workerSettings := worker.Settings{
		Subject:              cfg.NATS.JobSubject,
		DefaultCredential:    apiKey,
		Workers:              cfg.Pipeline.Workers,
		DeleteProcessedMedia: cfg.NATS.DeleteProcessedMedia,
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, workerSettings, mediaStore, audioStore, runner, finalLog)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           httpapi.NewServer(runner, apiKey, finalLog).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// 6. Run the worker and the HTTP API until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return natsWorker.Run(groupCtx)
	})

	group.Go(func() error {
		listenErr := httpServer.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", listenErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	finalLog.System("gemini-media-service listening for jobs on %s and HTTP on %s",
		cfg.NATS.JobSubject, cfg.HTTP.ListenAddr)

	err = group.Wait()
	if err != nil {
		finalLog.Error("Service stopped with error: %v", err)

		return err
	}

	finalLog.System("gemini-media-service stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
