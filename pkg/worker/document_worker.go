package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
	"github.com/feichai0017/document-recognizer/pkg/queue"
)

// TaskHandler is the worker side of the document service.
type TaskHandler interface {
	HandleDocument(ctx context.Context, task *queue.Task) error
	HandleBatch(ctx context.Context, task *queue.Task) error
	RecordUsage(ctx context.Context) error
}

type DocumentWorker struct {
	BaseWorker
	handler TaskHandler
}

func NewDocumentWorker(cfg *Config, handler TaskHandler, log logger.Logger) *DocumentWorker {
	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(n) * time.Minute
		},
	})

	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: logger.NewContextLogger(log.Named("worker")),
		},
		handler: handler,
	}
	w.mux.HandleFunc(queue.TaskTypeRecognize, w.handleTask)
	w.mux.HandleFunc(queue.TaskTypeBatchRecognize, w.handleTask)
	return w
}

// handleTask dispatches on the task type. Failures that a retry cannot fix
// skip the asynq retry policy.
func (w *DocumentWorker) handleTask(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.String("type", t.Type()),
			logger.Error(err),
		)
		return fmt.Errorf("failed to unmarshal task: %w: %w", err, asynq.SkipRetry)
	}
	if task.ID == "" {
		return fmt.Errorf("invalid task data: missing id: %w", asynq.SkipRetry)
	}

	if task.Type == queue.TaskTypeBatchRecognize {
		ctx = logger.WithBatchID(ctx, task.ID)
	} else {
		ctx = logger.WithTaskID(ctx, task.ID)
	}
	log := w.logger.FromContext(ctx)
	log.Info("Processing task", logger.String("type", task.Type))

	start := time.Now()
	var err error
	switch task.Type {
	case queue.TaskTypeRecognize:
		err = w.handler.HandleDocument(ctx, &task)
	case queue.TaskTypeBatchRecognize:
		err = w.handler.HandleBatch(ctx, &task)
	default:
		err = fmt.Errorf("unknown task type %q: %w", task.Type, asynq.SkipRetry)
	}

	if usageErr := w.handler.RecordUsage(ctx); usageErr != nil {
		log.Warn("Failed to record usage", logger.Error(usageErr))
	}

	w.writeResult(t, err)
	if err != nil {
		log.Error("Task failed", logger.Error(err), logger.Duration("elapsed", time.Since(start)))
		if permanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.Info("Task completed", logger.Duration("elapsed", time.Since(start)))
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, asynq.SkipRetry) ||
		errors.Is(err, models.ErrNoStrategyAvailable) ||
		errors.Is(err, models.ErrInvalidImage) ||
		errors.Is(err, models.ErrNotFound)
}

// writeResult keeps a short outcome on the asynq task for the inspector.
func (w *DocumentWorker) writeResult(t *asynq.Task, err error) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	result := map[string]string{"status": queue.StatusCompleted}
	if err != nil {
		result = map[string]string{"status": queue.StatusFailed, "error": err.Error()}
	}
	data, _ := json.Marshal(result)
	if _, writeErr := rw.Write(data); writeErr != nil {
		w.logger.Warn("Failed to write task result", logger.Error(writeErr))
	}
}

// Start runs the server until ctx is cancelled or Stop is called.
func (w *DocumentWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}
