package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// OCRClient is the subset of *gosseract.Client the local backend drives.
type OCRClient interface {
	SetLanguage(langs ...string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	SetVariable(key gosseract.SettableVariable, value string) error
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxesVerbose() ([]gosseract.BoundingBox, error)
	Close() error
}

// TesseractConfig configures the local engine.
type TesseractConfig struct {
	Languages   []string
	PageSegMode gosseract.PageSegMode
	// MaxPages bounds how many pages of a scanned PDF are rendered.
	MaxPages int
	// NewClient overrides the client constructor; defaults to gosseract.NewClient.
	NewClient func() OCRClient
}

// Tesseract is the local backend. It never costs anything.
type Tesseract struct {
	config     TesseractConfig
	rasterizer Rasterizer
	logger     logger.Logger
}

func NewTesseract(cfg TesseractConfig, rasterizer Rasterizer, log logger.Logger) *Tesseract {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.NewClient == nil {
		cfg.NewClient = func() OCRClient { return gosseract.NewClient() }
	}
	return &Tesseract{
		config:     cfg,
		rasterizer: rasterizer,
		logger:     log.Named("tesseract"),
	}
}

func (t *Tesseract) Kind() models.BackendKind { return models.BackendLocal }

func (t *Tesseract) Source() models.Source { return models.SourceTesseract }

func (t *Tesseract) Available() bool { return true }

func (t *Tesseract) EstimateCost(*models.Document, *models.DocumentProfile) float64 { return 0 }

// Recognize runs OCR page by page. A fresh client is created per call so
// concurrent batch files never share tesseract state.
func (t *Tesseract) Recognize(ctx context.Context, doc *models.Document) (*models.RecognitionResult, error) {
	start := time.Now()

	pages, err := pageImages(ctx, doc, t.rasterizer, t.config.MaxPages, "image/jpeg", "image/png", "image/tiff", "image/bmp")
	if err != nil {
		return nil, NewError(t, err)
	}

	client := t.config.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.config.Languages...); err != nil {
		return nil, NewError(t, fmt.Errorf("failed to set language: %w", err))
	}
	if err := client.SetPageSegMode(t.config.PageSegMode); err != nil {
		return nil, NewError(t, fmt.Errorf("failed to set page segmentation mode: %w", err))
	}
	if err := client.SetVariable("load_system_dawg", "1"); err != nil {
		return nil, NewError(t, fmt.Errorf("failed to set variable: %w", err))
	}

	texts := make([]string, 0, len(pages))
	var confSum float64
	var words int
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, NewError(t, err)
		}

		if err := client.SetImageFromBytes(page.data); err != nil {
			return nil, NewError(t, fmt.Errorf("%w: failed to set image for page %d: %v", models.ErrInvalidImage, i+1, err))
		}
		text, err := client.Text()
		if err != nil {
			return nil, NewError(t, fmt.Errorf("failed to get text from page %d: %w", i+1, err))
		}
		texts = append(texts, strings.TrimSpace(text))

		boxes, err := client.GetBoundingBoxesVerbose()
		if err != nil {
			t.logger.Warn("Failed to get bounding boxes", logger.Int("page", i+1), logger.Error(err))
			continue
		}
		for _, box := range boxes {
			// tesseract reports -1 for non-text blocks
			if box.Confidence < 0 || strings.TrimSpace(box.Word) == "" {
				continue
			}
			confSum += box.Confidence
			words++
		}
	}

	confidence := 0.0
	if words > 0 {
		confidence = confSum / float64(words)
	}

	result := &models.RecognitionResult{
		Text:       strings.Join(texts, "\n\n"),
		Confidence: models.ClampConfidence(confidence),
		Backend:    models.BackendLocal,
		Source:     models.SourceTesseract,
		ElapsedMs:  elapsedSince(start),
		CostUnits:  0,
		Pages:      len(pages),
	}

	t.logger.Debug("Recognized document",
		logger.String("file", doc.Name),
		logger.Int("pages", result.Pages),
		logger.Int("words", words),
		logger.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func (t *Tesseract) Close() error { return nil }
