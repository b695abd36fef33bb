// Package validator checks uploads before they are stored and queued.
package validator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	imgproc "github.com/feichai0017/document-recognizer/internal/agent/document/image"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// MetadataReader is satisfied by *pdf.Processor.
type MetadataReader interface {
	ExtractMetadata(ctx context.Context, content []byte) (models.DocumentMetadata, error)
}

type ValidatorConfig struct {
	MaxFileSize  int64
	MinDimension int
	MaxDimension int
	MaxPageCount int
}

func DefaultConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize:  20 << 20,
		MinDimension: 50,
		MaxDimension: 12000,
		MaxPageCount: 200,
	}
}

// content types http.DetectContentType reports for each accepted MIME type.
// It has no signature for TIFF or HEIF, so those sniff as octet-stream.
var sniffed = map[string][]string{
	"image/jpeg":      {"image/jpeg"},
	"image/png":       {"image/png"},
	"image/gif":       {"image/gif"},
	"image/webp":      {"image/webp"},
	"image/bmp":       {"image/bmp"},
	"image/tiff":      {"application/octet-stream"},
	"image/heic":      {"application/octet-stream"},
	"image/heif":      {"application/octet-stream"},
	"application/pdf": {"application/pdf"},
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Pages     int    `json:"pages,omitempty"`
}

// Error joins the messages of an invalid result.
func (r *ValidationResult) Error() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
	pdf    MetadataReader
}

// NewDocumentValidator builds a validator; pdf may be nil to skip page
// counting.
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig, pdf MetadataReader) *DocumentValidator {
	if config == nil {
		config = DefaultConfig()
	}
	return &DocumentValidator{
		logger: log.Named("validator"),
		config: config,
		pdf:    pdf,
	}
}

// ReadFile opens an upload, refusing anything over the size limit before
// reading it.
func (v *DocumentValidator) ReadFile(header *multipart.FileHeader) ([]byte, error) {
	if header.Size > v.config.MaxFileSize {
		return nil, fmt.Errorf("file %s exceeds maximum size of %d bytes", header.Filename, v.config.MaxFileSize)
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, v.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Validate checks size, extension, sniffed content type and the format
// specific limits of one file held in memory.
func (v *DocumentValidator) Validate(ctx context.Context, doc *models.Document) *ValidationResult {
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  doc.Name,
			Size:      doc.Size,
			MimeType:  doc.MimeType,
			Extension: strings.ToLower(filepath.Ext(doc.Name)),
			Hash:      doc.Hash,
		},
	}
	fail := func(code, field, format string, args ...any) {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{
			Code:    code,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if doc.Size == 0 {
		fail("EMPTY_FILE", "size", "file %s is empty", doc.Name)
		return result
	}
	if doc.Size > v.config.MaxFileSize {
		fail("FILE_TOO_LARGE", "size", "file size exceeds maximum limit of %d bytes", v.config.MaxFileSize)
	}

	allowed, ok := sniffed[doc.MimeType]
	if !ok {
		fail("INVALID_FILE_TYPE", "extension", "file type %s is not allowed", result.FileInfo.Extension)
		return result
	}

	detected := http.DetectContentType(doc.Data[:min(len(doc.Data), 512)])
	if !slices.Contains(allowed, detected) {
		fail("INVALID_MIME_TYPE", "mimeType", "content %s does not match extension %s", detected, result.FileInfo.Extension)
		return result
	}

	if doc.FileType() == models.PDF {
		v.validatePDF(ctx, doc, result, fail)
	} else {
		v.validateImage(doc, result, fail)
	}

	if !result.IsValid {
		v.logger.Warn("Upload rejected",
			logger.String("file", doc.Name),
			logger.String("reason", result.Error()),
		)
	}
	return result
}

func (v *DocumentValidator) validatePDF(ctx context.Context, doc *models.Document, result *ValidationResult, fail func(code, field, format string, args ...any)) {
	if !bytes.HasPrefix(doc.Data, []byte("%PDF-")) {
		fail("INVALID_PDF", "content", "missing PDF header")
		return
	}
	if v.pdf == nil {
		return
	}
	meta, err := v.pdf.ExtractMetadata(ctx, doc.Data)
	if err != nil {
		// unreadable structure is left to the OCR path
		v.logger.Debug("Could not read pdf metadata", logger.String("file", doc.Name), logger.Error(err))
		return
	}
	result.FileInfo.Pages = meta.Pages
	if v.config.MaxPageCount > 0 && meta.Pages > v.config.MaxPageCount {
		fail("TOO_MANY_PAGES", "pages", "document has %d pages, limit is %d", meta.Pages, v.config.MaxPageCount)
	}
}

func (v *DocumentValidator) validateImage(doc *models.Document, result *ValidationResult, fail func(code, field, format string, args ...any)) {
	cfg, err := imgproc.DecodeConfig(doc.Data, doc.MimeType)
	if err != nil {
		fail("INVALID_IMAGE", "content", "%v", err)
		return
	}
	result.FileInfo.Width = cfg.Width
	result.FileInfo.Height = cfg.Height

	shortest, longest := min(cfg.Width, cfg.Height), max(cfg.Width, cfg.Height)
	if shortest < v.config.MinDimension {
		fail("IMAGE_TOO_SMALL", "dimensions", "image is %dx%d, minimum side is %d", cfg.Width, cfg.Height, v.config.MinDimension)
	}
	if v.config.MaxDimension > 0 && longest > v.config.MaxDimension {
		fail("IMAGE_TOO_LARGE", "dimensions", "image is %dx%d, maximum side is %d", cfg.Width, cfg.Height, v.config.MaxDimension)
	}
}
