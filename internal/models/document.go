package models

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// FileType groups input files by how their text can be reached.
type FileType string

const (
	PDF   FileType = "pdf"
	Image FileType = "image"
)

// extension to MIME type for every input the pipeline accepts
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// MIMEFromName maps a file name to its MIME type, "" when unsupported.
func MIMEFromName(name string) string {
	return extToMIME[strings.ToLower(filepath.Ext(name))]
}

// SupportedExtensions lists the accepted file extensions.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extToMIME))
	for ext := range extToMIME {
		exts = append(exts, ext)
	}
	return exts
}

// Document is one input file held in memory.
type Document struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	Data     []byte `json:"-"`
}

// NewDocument builds a Document, deriving MIME type, size and hash.
func NewDocument(name string, data []byte) *Document {
	sum := sha256.Sum256(data)
	return &Document{
		Name:     name,
		MimeType: MIMEFromName(name),
		Size:     int64(len(data)),
		Hash:     hex.EncodeToString(sum[:]),
		Data:     data,
	}
}

// FileType reports whether the document is a PDF or an image.
func (d *Document) FileType() FileType {
	if d.MimeType == "application/pdf" {
		return PDF
	}
	return Image
}

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// DocumentProfile holds the facts derived once per input file.
type DocumentProfile struct {
	IsNativeTextDocument bool       `json:"isNativeTextDocument"`
	IsScannedDocument    bool       `json:"isScannedDocument"`
	IsPhoto              bool       `json:"isPhoto"`
	SizeBytes            int64      `json:"sizeBytes"`
	Complexity           Complexity `json:"complexity"`
	HasTabularStructure  bool       `json:"hasTabularStructure"`
	Pages                int        `json:"pages"`
	NativeText           string     `json:"-"`
}

// DocumentMetadata is what the PDF reader can tell about a file without OCR.
type DocumentMetadata struct {
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	FileType  FileType  `json:"fileType"`
	FileSize  int64     `json:"fileSize"`
	MimeType  string    `json:"mimeType"`
	Pages     int       `json:"pages"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

type ProcessingTask struct {
	ID        string            `json:"id"`
	Status    ProcessingStatus  `json:"status"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Progress  float64           `json:"progress"`
	Completed int               `json:"completed,omitempty"`
	Failed    int               `json:"failed,omitempty"`
	Total     int               `json:"total,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)
