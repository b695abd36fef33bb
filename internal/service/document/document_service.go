package document

import (
	"context"
	"errors"
	"mime/multipart"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/converters"
	"github.com/feichai0017/document-recognizer/pkg/queue"
)

var (
	// ErrTaskNotReady is returned for results of a task that has not finished.
	ErrTaskNotReady = errors.New("task is not completed")

	// ErrInvalidUpload wraps the reasons an upload was rejected.
	ErrInvalidUpload     = errors.New("invalid upload")
	ErrUnsupportedFormat = errors.New("unsupported report format")
)

// DocumentProcessor is the asynchronous recognition service. The submit and
// query methods serve the API; the Handle methods run inside the worker.
type DocumentProcessor interface {
	ProcessFile(ctx context.Context, header *multipart.FileHeader, opts TaskOptions) (*models.ProcessingTask, error)
	ProcessBatch(ctx context.Context, headers []*multipart.FileHeader, opts TaskOptions) (*models.ProcessingTask, error)
	GetProcessingStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error)
	GetProcessedDocument(ctx context.Context, taskID string) (*converters.ProcessedDocument, error)
	GetReport(ctx context.Context, taskID, format string) ([]byte, string, error)
	CancelTask(ctx context.Context, taskID string) error
	CleanupTasks(ctx context.Context) error
	Usage(ctx context.Context) (*UsageReport, error)

	HandleDocument(ctx context.Context, task *queue.Task) error
	HandleBatch(ctx context.Context, task *queue.Task) error
	RecordUsage(ctx context.Context) error
}
