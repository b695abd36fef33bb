package document

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/feichai0017/document-recognizer/internal/agent/document/pdf"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

const (
	// NativeTextMinRunes is the number of non-whitespace runes a PDF text
	// layer needs before it is trusted over OCR.
	NativeTextMinRunes = 100

	mediumSizeBytes  = 500 * 1024
	complexSizeBytes = 2 * 1024 * 1024

	tabularMinLines = 3
)

var (
	currencyPattern  = regexp.MustCompile(`[$€£¥₹₦]|\b(?:USD|EUR|GBP|XOF|XAF|FCFA|CFA)\b`)
	paragraphBreak   = regexp.MustCompile(`\n[ \t]*\n`)
	columnGapPattern = regexp.MustCompile(`\t| {2,}`)
)

// TextExtractor reads the embedded text layer of a PDF.
type TextExtractor interface {
	ExtractText(ctx context.Context, content []byte) (*pdf.TextResult, error)
}

// Profiler derives a DocumentProfile from a file before any backend runs.
type Profiler struct {
	extractor TextExtractor
	logger    logger.Logger
}

func NewProfiler(extractor TextExtractor, log logger.Logger) *Profiler {
	return &Profiler{
		extractor: extractor,
		logger:    log.Named("profiler"),
	}
}

// Profile never fails on unreadable PDFs: they are profiled as scans and left
// to the OCR backends.
func (p *Profiler) Profile(ctx context.Context, doc *models.Document) *models.DocumentProfile {
	profile := &models.DocumentProfile{
		SizeBytes: doc.Size,
		Pages:     1,
	}

	if doc.FileType() == models.PDF {
		p.profilePDF(ctx, doc, profile)
	} else {
		profile.IsPhoto = isCameraFormat(doc.MimeType)
		profile.IsScannedDocument = !profile.IsPhoto
		profile.Complexity = complexityBySize(doc.Size)
	}

	p.logger.Debug("Profiled document",
		logger.String("file", doc.Name),
		logger.Bool("native_text", profile.IsNativeTextDocument),
		logger.Bool("scanned", profile.IsScannedDocument),
		logger.Bool("photo", profile.IsPhoto),
		logger.String("complexity", string(profile.Complexity)),
		logger.Bool("tabular", profile.HasTabularStructure),
	)
	return profile
}

func (p *Profiler) profilePDF(ctx context.Context, doc *models.Document, profile *models.DocumentProfile) {
	text, err := p.extractor.ExtractText(ctx, doc.Data)
	if err != nil {
		p.logger.Warn("Failed to read pdf text layer, treating as scan",
			logger.String("file", doc.Name),
			logger.Error(err),
		)
		profile.IsScannedDocument = true
		profile.Complexity = complexityBySize(doc.Size)
		return
	}

	profile.Pages = text.Pages
	content := text.Text()
	if countVisible(content) > NativeTextMinRunes {
		profile.IsNativeTextDocument = true
		profile.NativeText = content
		profile.Complexity = complexityByText(content)
		profile.HasTabularStructure = HasTabularStructure(content)
		return
	}

	profile.IsScannedDocument = true
	profile.Complexity = complexityBySize(doc.Size)
}

func countVisible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func complexityByText(text string) models.Complexity {
	hasDigit := strings.IndexFunc(text, unicode.IsDigit) >= 0
	if hasDigit && currencyPattern.MatchString(text) && paragraphBreak.MatchString(text) {
		return models.ComplexityMedium
	}
	return models.ComplexitySimple
}

func complexityBySize(size int64) models.Complexity {
	switch {
	case size > complexSizeBytes:
		return models.ComplexityComplex
	case size > mediumSizeBytes:
		return models.ComplexityMedium
	default:
		return models.ComplexitySimple
	}
}

// HasTabularStructure reports whether at least three lines carry two or more
// column gaps (a tab or a run of spaces).
func HasTabularStructure(text string) bool {
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if len(columnGapPattern.FindAllStringIndex(strings.TrimSpace(line), -1)) >= 2 {
			lines++
			if lines >= tabularMinLines {
				return true
			}
		}
	}
	return false
}

func isCameraFormat(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/heic", "image/heif", "image/webp", "image/gif":
		return true
	}
	return false
}
