package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cfg "github.com/feichai0017/document-recognizer/config"
	"github.com/feichai0017/document-recognizer/internal/agent"
	"github.com/feichai0017/document-recognizer/internal/agent/document/pdf"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/batch"
	"github.com/feichai0017/document-recognizer/internal/service/recognition"
	"github.com/feichai0017/document-recognizer/internal/utils/validator"
	"github.com/feichai0017/document-recognizer/pkg/converters"
	"github.com/feichai0017/document-recognizer/pkg/logger"
	"github.com/feichai0017/document-recognizer/pkg/queue"
	"github.com/feichai0017/document-recognizer/pkg/storage"
)

// Recognizer is satisfied by *recognition.Service.
type Recognizer interface {
	Recognize(ctx context.Context, doc *models.Document, opts recognition.Options) (*models.EnhancedResult, *models.ValidationReport, error)
	Usage() models.UsageSnapshot
}

// BatchRunner is satisfied by *batch.Runner.
type BatchRunner interface {
	ProcessBatchWithRetry(ctx context.Context, files []*models.Document, opts batch.Options, maxRetries int) *batch.Output
}

// UsageLedger is satisfied by *ledger.Ledger.
type UsageLedger interface {
	Record(snap models.UsageSnapshot) error
	History(limit int) ([]models.UsageSnapshot, error)
}

// UploadValidator is satisfied by *validator.DocumentValidator.
type UploadValidator interface {
	ReadFile(header *multipart.FileHeader) ([]byte, error)
	Validate(ctx context.Context, doc *models.Document) *validator.ValidationResult
}

const usageKey = "usage/latest.json"

type ServiceConfig struct {
	QueuePriority      int
	BatchPriority      int
	RetentionPeriod    time.Duration
	BatchMaxConcurrent int
	BatchRetries       int
	MaxImageWidth      int
	// HistoryLimit bounds the ledger entries returned by Usage.
	HistoryLimit int
	Recognition  recognition.Options
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		QueuePriority:      queue.PriorityDefault,
		BatchPriority:      queue.PriorityLow,
		RetentionPeriod:    24 * time.Hour,
		BatchMaxConcurrent: batch.DefaultMaxConcurrent,
		BatchRetries:       1,
		MaxImageWidth:      batch.DefaultMaxWidth,
		HistoryLimit:       50,
		Recognition:        recognition.Options{MinQuality: 70, MaxCost: 10, Validate: true},
	}
}

type Option func(*DocumentService)

// WithLedger persists a usage snapshot after each handled task.
func WithLedger(l UsageLedger) Option {
	return func(s *DocumentService) { s.ledger = l }
}

func WithUploadValidator(v UploadValidator) Option {
	return func(s *DocumentService) { s.validator = v }
}

type DocumentService struct {
	recognizer Recognizer
	runner     BatchRunner
	queue      queue.Queue
	storage    storage.Storage
	validator  UploadValidator
	ledger     UsageLedger
	converter  *converters.JSONConverter
	logger     logger.Logger
	config     *ServiceConfig
	now        func() time.Time
}

func NewService(
	recognizer Recognizer,
	runner BatchRunner,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	config *ServiceConfig,
	opts ...Option,
) *DocumentService {
	if config == nil {
		config = DefaultServiceConfig()
	}
	s := &DocumentService{
		recognizer: recognizer,
		runner:     runner,
		queue:      q,
		storage:    store,
		converter:  converters.NewJSONConverter(),
		logger:     log.Named("document"),
		config:     config,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validator.NewDocumentValidator(log, nil, nil)
	}
	return s
}

// GetService wires the service from configuration around an already built
// recognition pipeline.
func GetService(ctx context.Context, log logger.Logger, pipeline *agent.Pipeline, opts ...Option) (*DocumentService, error) {
	serverCfg := cfg.GetServerConfig()
	queueCfg := cfg.GetQueueConfig()
	recCfg := cfg.GetRecognitionConfig()

	store, err := storage.NewStorage(ctx, storage.StorageType(serverCfg.StorageType), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	q, err := queue.NewAsynqQueue(queueCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	config := DefaultServiceConfig()
	config.BatchMaxConcurrent = queueCfg.BatchMaxConcurrent
	config.BatchRetries = queueCfg.BatchRetries
	config.MaxImageWidth = recCfg.MaxImageWidth
	config.Recognition = pipeline.Options

	uploads := validator.NewDocumentValidator(log, &validator.ValidatorConfig{
		MaxFileSize:  serverCfg.MaxUploadSize,
		MinDimension: 50,
		MaxDimension: 12000,
		MaxPageCount: 200,
	}, pdf.NewProcessor(log))

	opts = append([]Option{WithUploadValidator(uploads)}, opts...)
	return NewService(pipeline.Recognizer, pipeline.Runner, q, store, log, config, opts...), nil
}

// Close releases the queue connections.
func (s *DocumentService) Close() error {
	if c, ok := s.queue.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *DocumentService) ProcessFile(ctx context.Context, header *multipart.FileHeader, opts TaskOptions) (*models.ProcessingTask, error) {
	s.logger.Info("Starting file processing",
		logger.String("filename", header.Filename),
		logger.Int64("size", header.Size),
	)

	taskID := uuid.New().String()
	file, err := s.storeUpload(ctx, taskID, header)
	if err != nil {
		return nil, err
	}

	task, err := s.enqueue(ctx, taskID, queue.TaskTypeRecognize, s.config.QueuePriority, RecognizePayload{
		File:    file,
		Options: opts,
	}, 1)
	if err != nil {
		return nil, err
	}
	task.Metadata["filename"] = file.Name
	task.Metadata["size"] = strconv.FormatInt(file.Size, 10)
	return task, nil
}

// ProcessBatch stores every upload concurrently and enqueues a single batch
// task over them. One invalid file rejects the whole batch.
func (s *DocumentService) ProcessBatch(ctx context.Context, headers []*multipart.FileHeader, opts TaskOptions) (*models.ProcessingTask, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidUpload)
	}

	taskID := uuid.New().String()
	files := make([]StoredFile, len(headers))

	g, gctx := errgroup.WithContext(ctx)
	for i, header := range headers {
		g.Go(func() error {
			file, err := s.storeUpload(gctx, taskID, header)
			if err != nil {
				return err
			}
			files[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	task, err := s.enqueue(ctx, taskID, queue.TaskTypeBatchRecognize, s.config.BatchPriority, BatchPayload{
		Files:   files,
		Options: opts,
	}, len(files))
	if err != nil {
		return nil, err
	}
	task.Metadata["files"] = strconv.Itoa(len(files))
	return task, nil
}

func (s *DocumentService) storeUpload(ctx context.Context, taskID string, header *multipart.FileHeader) (StoredFile, error) {
	data, err := s.validator.ReadFile(header)
	if err != nil {
		return StoredFile{}, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}

	doc := models.NewDocument(header.Filename, data)
	if result := s.validator.Validate(ctx, doc); !result.IsValid {
		return StoredFile{}, fmt.Errorf("%w: %s: %s", ErrInvalidUpload, header.Filename, result.Error())
	}

	key, err := storage.StoreBytes(ctx, s.storage, storage.UploadKey(taskID, doc.Name), doc.MimeType, data)
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to store file: %w", err)
	}
	return StoredFile{Key: key, Name: doc.Name, Size: doc.Size}, nil
}

func (s *DocumentService) enqueue(ctx context.Context, taskID, taskType string, priority int, payload any, total int) (*models.ProcessingTask, error) {
	qt, err := queue.NewTask(taskID, taskType, priority, payload)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, qt); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	now := s.now()
	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:    qt.ID,
		Type:      taskType,
		Status:    queue.StatusPending,
		Total:     total,
		StartedAt: now,
	})

	s.logger.Info("Task created",
		logger.String("taskId", qt.ID),
		logger.String("type", taskType),
		logger.Int("files", total),
	)

	return &models.ProcessingTask{
		ID:        qt.ID,
		Status:    models.StatusPending,
		Type:      taskType,
		Priority:  priority,
		Total:     total,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *DocumentService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.queue.SaveStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save task status",
			logger.String("taskId", status.TaskID),
			logger.String("status", status.Status),
			logger.Error(err),
		)
	}
}

func (s *DocumentService) fail(ctx context.Context, task *queue.Task, started time.Time, err error) error {
	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     queue.StatusFailed,
		Error:      err.Error(),
		StartedAt:  started,
		FinishedAt: s.now(),
	})
	return err
}

// HandleDocument recognizes the file of a document:recognize task and stores
// the result JSON.
func (s *DocumentService) HandleDocument(ctx context.Context, task *queue.Task) error {
	started := s.now()
	var payload RecognizePayload
	if err := task.Decode(&payload); err != nil {
		return s.fail(ctx, task, started, err)
	}

	s.logger.Info("Processing document",
		logger.String("taskId", task.ID),
		logger.String("filename", payload.File.Name),
	)
	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    queue.StatusRunning,
		Progress:  0.1,
		Total:     1,
		StartedAt: started,
	})

	data, err := storage.ReadAll(ctx, s.storage, payload.File.Key)
	if err != nil {
		return s.fail(ctx, task, started, fmt.Errorf("failed to get file: %w", err))
	}
	doc := models.NewDocument(payload.File.Name, data)

	result, report, err := s.recognizer.Recognize(ctx, doc, payload.Options.apply(s.config.Recognition))
	if err != nil {
		return s.fail(ctx, task, started, fmt.Errorf("failed to recognize document: %w", err))
	}

	processed, err := s.converter.Convert(task.ID, doc, result, report, s.now().Sub(started))
	if err != nil {
		return s.fail(ctx, task, started, err)
	}
	if err := s.storeJSON(ctx, storage.ResultKey(task.ID), processed); err != nil {
		return s.fail(ctx, task, started, err)
	}

	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     queue.StatusCompleted,
		Progress:   1.0,
		Completed:  1,
		Total:      1,
		StartedAt:  started,
		FinishedAt: s.now(),
	})

	s.logger.Info("Document processing completed",
		logger.String("taskId", task.ID),
		logger.Float64("confidence", result.Confidence),
		logger.String("status", string(result.ValidationStatus)),
	)
	return nil
}

// HandleBatch runs a batch:recognize task. Files that cannot be loaded are
// reported as failed without stopping the others.
func (s *DocumentService) HandleBatch(ctx context.Context, task *queue.Task) error {
	started := s.now()
	var payload BatchPayload
	if err := task.Decode(&payload); err != nil {
		return s.fail(ctx, task, started, err)
	}
	total := len(payload.Files)

	s.logger.Info("Processing batch",
		logger.String("taskId", task.ID),
		logger.Int("files", total),
	)

	results := make([]models.BatchFileResult, total)
	docs := make([]*models.Document, 0, total)
	slots := make([]int, 0, total)
	for i, f := range payload.Files {
		data, err := storage.ReadAll(ctx, s.storage, f.Key)
		if err != nil {
			s.logger.Warn("Batch file unavailable",
				logger.String("taskId", task.ID),
				logger.String("file", f.Name),
				logger.Error(err),
			)
			results[i] = models.BatchFileResult{File: f.Name, Error: err.Error()}
			continue
		}
		docs = append(docs, models.NewDocument(f.Name, data))
		slots = append(slots, i)
	}
	missing := total - len(docs)

	opts := batch.Options{
		MaxConcurrent: s.config.BatchMaxConcurrent,
		Preprocess:    payload.Options.Preprocess == nil || *payload.Options.Preprocess,
		MaxWidth:      s.config.MaxImageWidth,
		Recognition:   payload.Options.apply(s.config.Recognition),
		Progress: func(e batch.Event) {
			done := e.Completed + missing
			s.saveStatus(ctx, &queue.TaskStatus{
				TaskID:    task.ID,
				Type:      task.Type,
				Status:    queue.StatusRunning,
				Progress:  float64(done) / float64(total),
				Completed: done,
				Failed:    e.Failed + missing,
				Total:     total,
				StartedAt: started,
			})
		},
	}
	opts.Validate = opts.Recognition.Validate

	out := s.runner.ProcessBatchWithRetry(ctx, docs, opts, s.config.BatchRetries)
	for j, i := range slots {
		results[i] = out.Results[j]
	}
	full := &batch.Output{Results: results, Summary: models.Summarize(results, s.now().Sub(started)), FinishedAt: s.now()}

	if err := s.storeReports(ctx, task.ID, full); err != nil {
		return s.fail(ctx, task, started, err)
	}
	if err := s.storeJSON(ctx, storage.ResultKey(task.ID), s.converter.ConvertBatch(task.ID, full.Results, full.Summary)); err != nil {
		return s.fail(ctx, task, started, err)
	}

	status := &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     queue.StatusCompleted,
		Progress:   1.0,
		Completed:  total,
		Failed:     full.Summary.Failed,
		Total:      total,
		StartedAt:  started,
		FinishedAt: s.now(),
	}
	if total > 0 && full.Summary.Successful == 0 {
		status.Status = queue.StatusFailed
		status.Error = "every file in the batch failed"
	}
	s.saveStatus(ctx, status)

	s.logger.Info("Batch processing completed",
		logger.String("taskId", task.ID),
		logger.Int("successful", full.Summary.Successful),
		logger.Int("failed", full.Summary.Failed),
		logger.Float64("cost", full.Summary.TotalCost),
	)
	return nil
}

func (s *DocumentService) storeReports(ctx context.Context, taskID string, out *batch.Output) error {
	csvBuf := new(bytes.Buffer)
	if err := batch.CSVReport(csvBuf, out); err != nil {
		return fmt.Errorf("failed to render csv report: %w", err)
	}
	if _, err := storage.StoreBytes(ctx, s.storage, storage.ReportKey(taskID, "csv"), "text/csv", csvBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to store csv report: %w", err)
	}

	htmlBuf := new(bytes.Buffer)
	if err := batch.HTMLReport(htmlBuf, out); err != nil {
		return fmt.Errorf("failed to render html report: %w", err)
	}
	if _, err := storage.StoreBytes(ctx, s.storage, storage.ReportKey(taskID, "html"), "text/html; charset=utf-8", htmlBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to store html report: %w", err)
	}
	return nil
}

func (s *DocumentService) storeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if _, err := storage.StoreBytes(ctx, s.storage, key, "application/json", data); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *DocumentService) GetProcessingStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	var taskStatus models.ProcessingStatus
	switch status.Status {
	case queue.StatusRunning:
		taskStatus = models.StatusRunning
	case queue.StatusCompleted:
		taskStatus = models.StatusCompleted
	case queue.StatusFailed:
		taskStatus = models.StatusFailed
	case queue.StatusCancelled:
		taskStatus = models.StatusCancelled
	default:
		taskStatus = models.StatusPending
	}

	return &models.ProcessingTask{
		ID:        status.TaskID,
		Status:    taskStatus,
		Type:      status.Type,
		Progress:  status.Progress,
		Completed: status.Completed,
		Failed:    status.Failed,
		Total:     status.Total,
		Error:     status.Error,
		Metadata:  map[string]string{},
		CreatedAt: status.StartedAt,
		UpdatedAt: status.FinishedAt,
	}, nil
}

// GetProcessedDocument returns the stored result of a finished task. A batch
// whose files all failed still has a result.
func (s *DocumentService) GetProcessedDocument(ctx context.Context, taskID string) (*converters.ProcessedDocument, error) {
	if err := s.requireFinished(ctx, taskID); err != nil {
		return nil, err
	}

	data, err := storage.ReadAll(ctx, s.storage, storage.ResultKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result converters.ProcessedDocument
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// GetReport returns a batch report (csv or html) and its content type.
func (s *DocumentService) GetReport(ctx context.Context, taskID, format string) ([]byte, string, error) {
	var contentType string
	switch format {
	case "csv":
		contentType = "text/csv"
	case "html":
		contentType = "text/html; charset=utf-8"
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := s.requireFinished(ctx, taskID); err != nil {
		return nil, "", err
	}

	data, err := storage.ReadAll(ctx, s.storage, storage.ReportKey(taskID, format))
	if err != nil {
		return nil, "", fmt.Errorf("failed to get report: %w", err)
	}
	return data, contentType, nil
}

func (s *DocumentService) requireFinished(ctx context.Context, taskID string) error {
	status, err := s.GetProcessingStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if status.Status != models.StatusCompleted && status.Status != models.StatusFailed {
		return fmt.Errorf("%w: %s", ErrTaskNotReady, status.Status)
	}
	return nil
}

func (s *DocumentService) CancelTask(ctx context.Context, taskID string) error {
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// CleanupTasks removes uploads, results and reports past the retention period.
func (s *DocumentService) CleanupTasks(ctx context.Context) error {
	threshold := s.now().Add(-s.config.RetentionPeriod)
	if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}
	s.logger.Info("Completed tasks cleanup", logger.Time("threshold", threshold))
	return nil
}

// RecordUsage persists the current snapshot to the ledger and publishes the
// report to storage, where processes without a ledger read it.
func (s *DocumentService) RecordUsage(ctx context.Context) error {
	report, err := s.liveUsage()
	if err != nil {
		return err
	}
	if s.ledger != nil {
		if err := s.ledger.Record(report.Current); err != nil {
			return err
		}
		report.History = append([]models.UsageSnapshot{report.Current}, report.History...)
		if len(report.History) > s.config.HistoryLimit {
			report.History = report.History[:s.config.HistoryLimit]
		}
	}
	return s.storeJSON(ctx, usageKey, report)
}

func (s *DocumentService) liveUsage() (*UsageReport, error) {
	snap := s.recognizer.Usage()
	snap.TakenAt = s.now()
	report := &UsageReport{Current: snap, History: []models.UsageSnapshot{}}
	if s.ledger == nil {
		return report, nil
	}
	history, err := s.ledger.History(s.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage history: %w", err)
	}
	report.History = history
	return report, nil
}

// Usage reads the live counters when this process keeps the ledger, and the
// last published report otherwise.
func (s *DocumentService) Usage(ctx context.Context) (*UsageReport, error) {
	if s.ledger != nil {
		return s.liveUsage()
	}

	data, err := storage.ReadAll(ctx, s.storage, usageKey)
	if errors.Is(err, models.ErrNotFound) {
		return s.liveUsage()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage report: %w", err)
	}

	var report UsageReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode usage report: %w", err)
	}
	return &report, nil
}
