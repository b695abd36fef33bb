package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/document-recognizer/config"
	"github.com/feichai0017/document-recognizer/internal/agent"
	"github.com/feichai0017/document-recognizer/internal/service/document"
	"github.com/feichai0017/document-recognizer/pkg/ledger"
	"github.com/feichai0017/document-recognizer/pkg/logger"
	"github.com/feichai0017/document-recognizer/pkg/queue"
	"github.com/feichai0017/document-recognizer/pkg/worker"
)

func main() {
	serverCfg := config.GetServerConfig()
	queueCfg := config.GetQueueConfig()

	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding(serverCfg.LogEncoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "recognizer-worker"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := agent.NewPipeline(ctx, config.GetRecognitionConfig(), config.GetTextractConfig(), log)
	if err != nil {
		log.Error("Failed to build recognition pipeline", logger.Error(err))
		os.Exit(1)
	}
	defer pipeline.Close()

	// The worker owns the usage ledger; the API reads the published report.
	usage, err := ledger.Open(config.GetLedgerConfig().Path, log)
	if err != nil {
		log.Error("Failed to open usage ledger", logger.Error(err))
		os.Exit(1)
	}
	defer usage.Close()

	docService, err := document.GetService(ctx, log, pipeline, document.WithLedger(usage))
	if err != nil {
		log.Error("Failed to create document service", logger.Error(err))
		os.Exit(1)
	}
	defer docService.Close()

	documentWorker := worker.NewDocumentWorker(&worker.Config{
		Redis:       queue.RedisOpt(queueCfg),
		Concurrency: queueCfg.Concurrency,
		Queues:      queue.QueueWeights,
	}, docService, log)

	if err := documentWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", queueCfg.Concurrency))

	if serverCfg.CleanupInterval > 0 {
		go runCleanup(ctx, docService, serverCfg.CleanupInterval, log)
	}

	<-ctx.Done()
	log.Info("Shutting down worker...")
	documentWorker.Stop()
	log.Info("Worker stopped")
}

func runCleanup(ctx context.Context, svc document.DocumentProcessor, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.CleanupTasks(ctx); err != nil {
				log.Warn("Cleanup failed", logger.Error(err))
			}
		}
	}
}
