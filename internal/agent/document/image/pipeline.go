package image

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// Options selects the operations of one pipeline run. Operations always run
// in the order rotate, resize, contrast, denoise, sharpen, binarize.
type Options struct {
	AutoRotate bool
	Resize     *ResizeProcessor
	Contrast   bool
	Denoise    bool
	Sharpen    bool
	Binarize   bool
}

// ForOCR prepares clean photos: rotate, cap the width, stretch contrast.
func ForOCR(maxWidth int) Options {
	return Options{
		AutoRotate: true,
		Resize:     NewMaxWidthProcessor(maxWidth),
		Contrast:   true,
	}
}

// ForLowQuality prepares noisy scans: everything but resizing.
func ForLowQuality() Options {
	return Options{
		AutoRotate: true,
		Contrast:   true,
		Denoise:    true,
		Sharpen:    true,
		Binarize:   true,
	}
}

// Output is the result of one pipeline run.
type Output struct {
	Image   *image.NRGBA
	Applied []Operation
	Elapsed time.Duration
}

type Pipeline struct {
	logger logger.Logger
}

func NewPipeline(log logger.Logger) *Pipeline {
	return &Pipeline{logger: log.Named("pixel-pipeline")}
}

func (o Options) chain() []ImagePreprocessor {
	var steps []ImagePreprocessor
	if o.AutoRotate {
		steps = append(steps, NewAutoRotateProcessor())
	}
	if o.Resize != nil {
		steps = append(steps, o.Resize)
	}
	if o.Contrast {
		steps = append(steps, NewContrastProcessor())
	}
	if o.Denoise {
		steps = append(steps, NewDenoiseProcessor())
	}
	if o.Sharpen {
		steps = append(steps, NewSharpenProcessor())
	}
	if o.Binarize {
		steps = append(steps, NewBinarizeProcessor())
	}
	return steps
}

// Run applies the requested operations to img. The input is never modified.
func (p *Pipeline) Run(img image.Image, opts Options) (*Output, error) {
	start := time.Now()
	if img == nil || img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("%w: image has zero dimensions", models.ErrInvalidImage)
	}

	result := imaging.Clone(img)
	applied := make([]Operation, 0, 6)
	for _, step := range opts.chain() {
		if c, ok := step.(conditional); ok && !c.Applies(result) {
			continue
		}
		next, err := step.Process(result)
		if err != nil {
			p.logger.Error("Preprocessing failed",
				logger.String("operation", string(step.Operation())),
				logger.Error(err),
			)
			return nil, fmt.Errorf("%s failed: %w", step.Operation(), err)
		}
		result = next
		applied = append(applied, step.Operation())
	}

	out := &Output{Image: result, Applied: applied, Elapsed: time.Since(start)}
	p.logger.Debug("Pipeline finished",
		logger.Any("applied", applied),
		logger.Int("width", result.Bounds().Dx()),
		logger.Int("height", result.Bounds().Dy()),
		logger.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

// Preprocess decodes an image document, runs opts and re-encodes it as PNG.
// PDFs are returned unchanged.
func (p *Pipeline) Preprocess(doc *models.Document, opts Options) (*models.Document, []Operation, error) {
	if doc.FileType() == models.PDF {
		return doc, nil, nil
	}

	img, err := Decode(doc.Data, doc.MimeType)
	if err != nil {
		return nil, nil, err
	}

	out, err := p.Run(img, opts)
	if err != nil {
		return nil, nil, err
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, out.Image); err != nil {
		return nil, nil, fmt.Errorf("failed to encode image: %w", err)
	}

	name := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name)) + ".png"
	return models.NewDocument(name, buf.Bytes()), out.Applied, nil
}
