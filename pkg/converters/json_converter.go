package converters

import (
	"errors"
	"time"

	"github.com/feichai0017/document-recognizer/internal/models"
)

// ProcessedDocument is the JSON stored under a task's result key and served
// by the download endpoint.
type ProcessedDocument struct {
	TaskID      string                   `json:"taskId"`
	Status      string                   `json:"status"`
	Result      *models.EnhancedResult   `json:"result,omitempty"`
	Validation  *models.ValidationReport `json:"validation,omitempty"`
	Batch       *BatchContent            `json:"batch,omitempty"`
	Metadata    DocumentMetadata         `json:"metadata"`
	ProcessedAt time.Time                `json:"processedAt"`
}

type BatchContent struct {
	Results []models.BatchFileResult `json:"results"`
	Summary models.BatchSummary      `json:"summary"`
}

type DocumentMetadata struct {
	FileName     string             `json:"fileName,omitempty"`
	FileType     models.FileType    `json:"fileType,omitempty"`
	FileSize     int64              `json:"fileSize,omitempty"`
	Pages        int                `json:"pages,omitempty"`
	Confidence   float64            `json:"confidence"`
	ProcessingMs int64              `json:"processingMs"`
	Backend      models.BackendKind `json:"backend,omitempty"`
	Source       models.Source      `json:"source,omitempty"`
	Cost         float64            `json:"cost"`
}

type JSONConverter struct {
	now func() time.Time
}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{now: time.Now}
}

// Convert wraps a single recognized document.
func (c *JSONConverter) Convert(taskID string, doc *models.Document, result *models.EnhancedResult, report *models.ValidationReport, elapsed time.Duration) (*ProcessedDocument, error) {
	if result == nil {
		return nil, errors.New("no result to convert")
	}

	out := &ProcessedDocument{
		TaskID:      taskID,
		Status:      "completed",
		Result:      result,
		Validation:  report,
		ProcessedAt: c.now(),
		Metadata: DocumentMetadata{
			Confidence:   result.Confidence,
			ProcessingMs: elapsed.Milliseconds(),
			Cost:         result.CostUnits,
		},
	}
	if doc != nil {
		out.Metadata.FileName = doc.Name
		out.Metadata.FileType = doc.FileType()
		out.Metadata.FileSize = doc.Size
	}
	if rec := result.Recognition; rec != nil {
		out.Metadata.Pages = rec.Pages
		out.Metadata.Backend = rec.Backend
		out.Metadata.Source = rec.Source
	}
	return out, nil
}

// ConvertBatch wraps a batch run. Confidence is the mean over successful files.
func (c *JSONConverter) ConvertBatch(taskID string, results []models.BatchFileResult, summary models.BatchSummary) *ProcessedDocument {
	var confSum float64
	for _, r := range results {
		if r.Success && r.Result != nil {
			confSum += r.Result.Confidence
		}
	}
	var conf float64
	if summary.Successful > 0 {
		conf = confSum / float64(summary.Successful)
	}

	status := "completed"
	if summary.Total > 0 && summary.Successful == 0 {
		status = "failed"
	}

	return &ProcessedDocument{
		TaskID:      taskID,
		Status:      status,
		Batch:       &BatchContent{Results: results, Summary: summary},
		ProcessedAt: c.now(),
		Metadata: DocumentMetadata{
			Confidence:   conf,
			ProcessingMs: summary.TotalTime.Milliseconds(),
			Cost:         summary.TotalCost,
		},
	}
}
