package backend

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"slices"
	"time"

	imgproc "github.com/feichai0017/document-recognizer/internal/agent/document/image"
	"github.com/feichai0017/document-recognizer/internal/models"
)

// Backend turns a document into text. Implementations are safe for
// concurrent use.
type Backend interface {
	Kind() models.BackendKind
	Source() models.Source
	// Available reports whether the backend is configured and can be invoked.
	Available() bool
	// EstimateCost returns the cost units one Recognize call would spend.
	EstimateCost(doc *models.Document, profile *models.DocumentProfile) float64
	Recognize(ctx context.Context, doc *models.Document) (*models.RecognitionResult, error)
	Close() error
}

// Rasterizer renders PDF pages to PNG for the image-only engines.
type Rasterizer interface {
	Rasterize(ctx context.Context, content []byte, maxPages int) ([][]byte, error)
}

// Set groups the configured backends. Cloud and Premium may be nil.
type Set struct {
	Local   Backend
	Cloud   Backend
	Premium Backend
}

// Get returns the backend registered for kind, nil when none is.
func (s *Set) Get(kind models.BackendKind) Backend {
	switch kind {
	case models.BackendLocal:
		return s.Local
	case models.BackendCloud:
		return s.Cloud
	}
	return nil
}

// Close releases every backend of the set.
func (s *Set) Close() error {
	var firstErr error
	for _, b := range []Backend{s.Local, s.Cloud, s.Premium} {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsAvailable is true for a non-nil, available backend.
func IsAvailable(b Backend) bool {
	return b != nil && b.Available()
}

// NativeConfidence is the confidence given to text read from a PDF text
// layer.
const NativeConfidence = 98.0

// FromNativeText wraps the text layer of a native PDF as a free local result.
func FromNativeText(profile *models.DocumentProfile, elapsed time.Duration) *models.RecognitionResult {
	return &models.RecognitionResult{
		Text:       profile.NativeText,
		Confidence: NativeConfidence,
		Backend:    models.BackendLocal,
		Source:     models.SourceNativeText,
		ElapsedMs:  elapsed.Milliseconds(),
		CostUnits:  0,
		Pages:      profile.Pages,
	}
}

func pageCount(profile *models.DocumentProfile) int {
	if profile == nil || profile.Pages < 1 {
		return 1
	}
	return profile.Pages
}

type pageImage struct {
	data []byte
	mime string
}

// pageImages returns one encoded image per page. PDFs are rasterized; images
// whose MIME type is not in passthrough are re-encoded as PNG.
func pageImages(ctx context.Context, doc *models.Document, rasterizer Rasterizer, maxPages int, passthrough ...string) ([]pageImage, error) {
	if doc.FileType() == models.PDF {
		if rasterizer == nil {
			return nil, fmt.Errorf("%w: no pdf rasterizer configured", models.ErrInvalidImage)
		}
		rendered, err := rasterizer.Rasterize(ctx, doc.Data, maxPages)
		if err != nil {
			return nil, err
		}
		if len(rendered) == 0 {
			return nil, fmt.Errorf("%w: pdf has no pages", models.ErrInvalidImage)
		}
		pages := make([]pageImage, len(rendered))
		for i, data := range rendered {
			pages[i] = pageImage{data: data, mime: "image/png"}
		}
		return pages, nil
	}

	if slices.Contains(passthrough, doc.MimeType) {
		return []pageImage{{data: doc.Data, mime: doc.MimeType}}, nil
	}

	img, err := imgproc.Decode(doc.Data, doc.MimeType)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return []pageImage{{data: buf.Bytes(), mime: "image/png"}}, nil
}

func elapsedSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
