package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// TextResult is the text layer of a PDF, page by page.
type TextResult struct {
	Pages     int
	PageTexts []string
}

// Text joins all pages with a blank line between them.
func (r *TextResult) Text() string {
	return strings.Join(r.PageTexts, "\n\n")
}

type Processor struct {
	logger     logger.Logger
	maxWorkers int
	dpi        float64
}

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{
		logger:     log.Named("pdf"),
		maxWorkers: 4,
		dpi:        300,
	}
}

// ExtractText reads the embedded text of every page concurrently.
func (p *Processor) ExtractText(ctx context.Context, content []byte) (result *TextResult, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	texts := make([]string, numPages)

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.maxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (gerr error) {
			defer func() {
				if r := recover(); r != nil {
					gerr = fmt.Errorf("failed to read page %d: %v", pageNum, r)
				}
			}()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			texts[pageNum-1] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug("Extracted pdf text layer", logger.Int("pages", numPages))
	return &TextResult{Pages: numPages, PageTexts: texts}, nil
}

// ExtractMetadata reads page count and the Info dictionary.
func (p *Processor) ExtractMetadata(ctx context.Context, content []byte) (meta models.DocumentMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return models.DocumentMetadata{}, fmt.Errorf("failed to open pdf: %w", err)
	}

	hash := sha256.Sum256(content)
	meta = models.DocumentMetadata{
		FileType:  models.PDF,
		FileSize:  int64(len(content)),
		MimeType:  "application/pdf",
		Pages:     pdfReader.NumPage(),
		Hash:      hex.EncodeToString(hash[:]),
		CreatedAt: time.Now(),
	}

	if trailer := pdfReader.Trailer(); !trailer.IsNull() {
		if info := trailer.Key("Info"); !info.IsNull() {
			if title := info.Key("Title"); !title.IsNull() {
				meta.Title = title.Text()
			}
			if author := info.Key("Author"); !author.IsNull() {
				meta.Author = author.Text()
			}
		}
	}

	return meta, nil
}

// Rasterize renders up to maxPages pages (all when maxPages <= 0) to PNG so
// image backends can read scanned PDFs.
func (p *Processor) Rasterize(ctx context.Context, content []byte, maxPages int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf for rendering: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, p.dpi)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		buf := new(bytes.Buffer)
		if err := png.Encode(buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
	}

	p.logger.Debug("Rasterized pdf", logger.Int("pages", len(pages)))
	return pages, nil
}
