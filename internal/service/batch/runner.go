// Package batch recognizes many documents in fixed-size concurrent groups.
package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	imgproc "github.com/feichai0017/document-recognizer/internal/agent/document/image"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/recognition"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

const (
	DefaultMaxConcurrent = 3
	DefaultMaxWidth      = 2000
)

// Recognizer is satisfied by *recognition.Service.
type Recognizer interface {
	Recognize(ctx context.Context, doc *models.Document, opts recognition.Options) (*models.EnhancedResult, *models.ValidationReport, error)
}

// Preprocessor is satisfied by *image.Pipeline.
type Preprocessor interface {
	Preprocess(doc *models.Document, opts imgproc.Options) (*models.Document, []imgproc.Operation, error)
}

// Event reports one finished file.
type Event struct {
	File       string  `json:"file"`
	Group      int     `json:"group"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type Options struct {
	MaxConcurrent int
	Preprocess    bool
	Validate      bool
	// MaxWidth caps the width of preprocessed images.
	MaxWidth int
	// Recognition is passed to every file; its Validate flag is overridden.
	Recognition recognition.Options
	// Progress is called after each file, never concurrently.
	Progress func(Event)
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent: DefaultMaxConcurrent,
		Preprocess:    true,
		Validate:      true,
		MaxWidth:      DefaultMaxWidth,
	}
}

type Output struct {
	Results    []models.BatchFileResult `json:"results"`
	Summary    models.BatchSummary      `json:"summary"`
	FinishedAt time.Time                `json:"finishedAt"`
}

type Runner struct {
	recognizer   Recognizer
	preprocessor Preprocessor
	logger       logger.Logger
}

// NewRunner builds a runner; preprocessor may be nil to disable the step.
func NewRunner(recognizer Recognizer, preprocessor Preprocessor, log logger.Logger) *Runner {
	return &Runner{
		recognizer:   recognizer,
		preprocessor: preprocessor,
		logger:       log.Named("batch"),
	}
}

// ProcessBatch runs files in groups of MaxConcurrent. Groups run one after
// another; results keep the input order. A failing file never stops the run.
func (r *Runner) ProcessBatch(ctx context.Context, files []*models.Document, opts Options) *Output {
	start := time.Now()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}

	results := make([]models.BatchFileResult, len(files))
	progress := &tracker{total: len(files), callback: opts.Progress}

	for group, from := 0, 0; from < len(files); group, from = group+1, from+opts.MaxConcurrent {
		to := min(from+opts.MaxConcurrent, len(files))
		r.logger.Debug("Starting group",
			logger.Int("group", group),
			logger.Int("files", to-from),
		)

		g, gctx := errgroup.WithContext(ctx)
		for i := from; i < to; i++ {
			g.Go(func() error {
				results[i] = r.processFile(gctx, files[i], opts)
				progress.done(files[i].Name, group, results[i].Success)
				return nil
			})
		}
		_ = g.Wait()
	}

	out := &Output{Results: results, Summary: models.Summarize(results, time.Since(start)), FinishedAt: time.Now()}
	r.logger.Info("Batch finished",
		logger.Int("total", out.Summary.Total),
		logger.Int("successful", out.Summary.Successful),
		logger.Int("failed", out.Summary.Failed),
		logger.Float64("cost", out.Summary.TotalCost),
		logger.Duration("elapsed", out.Summary.TotalTime),
	)
	return out
}

// ProcessBatchWithRetry re-submits failed files up to maxRetries times,
// replacing their results in place.
func (r *Runner) ProcessBatchWithRetry(ctx context.Context, files []*models.Document, opts Options, maxRetries int) *Output {
	start := time.Now()
	out := r.ProcessBatch(ctx, files, opts)

	for pass := 1; pass <= maxRetries; pass++ {
		var failed []int
		for i := range out.Results {
			if !out.Results[i].Success {
				failed = append(failed, i)
			}
		}
		if len(failed) == 0 {
			break
		}

		r.logger.Info("Retrying failed files",
			logger.Int("pass", pass),
			logger.Int("files", len(failed)),
		)
		retryFiles := make([]*models.Document, len(failed))
		for j, i := range failed {
			retryFiles[j] = files[i]
		}
		retry := r.ProcessBatch(ctx, retryFiles, opts)
		for j, i := range failed {
			out.Results[i] = retry.Results[j]
		}
	}

	out.Summary = models.Summarize(out.Results, time.Since(start))
	out.FinishedAt = time.Now()
	return out
}

func (r *Runner) processFile(ctx context.Context, doc *models.Document, opts Options) models.BatchFileResult {
	start := time.Now()
	res := models.BatchFileResult{File: doc.Name}

	working := doc
	if opts.Preprocess && r.preprocessor != nil && doc.FileType() == models.Image {
		prepared, applied, err := r.preprocessor.Preprocess(doc, imgproc.ForOCR(opts.MaxWidth))
		if err != nil {
			r.logger.Warn("Preprocessing failed, using original file",
				logger.String("file", doc.Name),
				logger.Error(err),
			)
		} else {
			working = prepared
			r.logger.Debug("Preprocessed", logger.String("file", doc.Name), logger.Any("applied", applied))
		}
	}

	ropts := opts.Recognition
	ropts.Validate = opts.Validate
	result, report, err := r.recognizer.Recognize(ctx, working, ropts)
	res.ProcessingTime = time.Since(start)
	if err != nil {
		r.logger.Error("File failed", logger.String("file", doc.Name), logger.Error(err))
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Result = result
	res.Validation = report
	return res
}

// tracker serializes progress callbacks.
type tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	callback  func(Event)
}

func (t *tracker) done(file string, group int, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	if !success {
		t.failed++
	}
	if t.callback == nil {
		return
	}
	t.callback(Event{
		File:       file,
		Group:      group,
		Completed:  t.completed,
		Failed:     t.failed,
		Total:      t.total,
		Percentage: float64(t.completed) / float64(t.total) * 100,
	})
}
