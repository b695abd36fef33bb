package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/document"
	"github.com/feichai0017/document-recognizer/pkg/logger"
	"github.com/feichai0017/document-recognizer/pkg/queue"
)

type DocumentHandler struct {
	service document.DocumentProcessor
	logger  logger.Logger
}

type ProcessResponse struct {
	TaskID    string `json:"taskId"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Filename  string `json:"filename,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	FileType  string `json:"fileType,omitempty"`
	Files     int    `json:"files,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewDocumentHandler(service document.DocumentProcessor, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  log.Named("api"),
	}
}

// ProcessDocument accepts one "file" upload.
func (h *DocumentHandler) ProcessDocument(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	opts, err := taskOptions(c)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid options", err)
		return
	}

	task, err := h.service.ProcessFile(c.Request.Context(), header, opts)
	if err != nil {
		h.handleError(c, statusOf(err), "Failed to process file", err)
		return
	}

	c.JSON(http.StatusAccepted, ProcessResponse{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    string(task.Status),
		Filename:  header.Filename,
		FileSize:  header.Size,
		FileType:  filepath.Ext(header.Filename),
		CreatedAt: task.CreatedAt.Format(time.RFC3339),
	})
}

// ProcessBatch accepts many "files" uploads as one batch task.
func (h *DocumentHandler) ProcessBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}
	opts, err := taskOptions(c)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid options", err)
		return
	}

	task, err := h.service.ProcessBatch(c.Request.Context(), files, opts)
	if err != nil {
		h.handleError(c, statusOf(err), "Failed to process files", err)
		return
	}

	c.JSON(http.StatusAccepted, ProcessResponse{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    string(task.Status),
		Files:     len(files),
		CreatedAt: task.CreatedAt.Format(time.RFC3339),
	})
}

func (h *DocumentHandler) GetStatus(c *gin.Context) {
	task, err := h.service.GetProcessingStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleError(c, statusOf(err), "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *DocumentHandler) DownloadResult(c *gin.Context) {
	taskID := c.Param("taskId")
	result, err := h.service.GetProcessedDocument(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, statusOf(err), "Failed to get result", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=result_%s.json", taskID))
	c.JSON(http.StatusOK, result)
}

// GetReport serves the csv (default) or html report of a batch task.
func (h *DocumentHandler) GetReport(c *gin.Context) {
	taskID := c.Param("taskId")
	format := c.DefaultQuery("format", "csv")

	data, contentType, err := h.service.GetReport(c.Request.Context(), taskID, format)
	if err != nil {
		h.handleError(c, statusOf(err), "Failed to get report", err)
		return
	}

	if format == "csv" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.csv", taskID))
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *DocumentHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.service.CancelTask(c.Request.Context(), taskID); err != nil {
		h.handleError(c, statusOf(err), "Failed to cancel task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}

func (h *DocumentHandler) GetUsage(c *gin.Context) {
	report, err := h.service.Usage(c.Request.Context())
	if err != nil {
		h.handleError(c, statusOf(err), "Failed to get usage", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// taskOptions reads the optional recognition overrides from the form or
// query string.
func taskOptions(c *gin.Context) (document.TaskOptions, error) {
	var opts document.TaskOptions
	if p, ok := formValue(c, "provider"); ok {
		kind := models.BackendKind(p)
		if !kind.Valid() {
			return opts, fmt.Errorf("unknown provider %q", p)
		}
		opts.Provider = kind
	}

	var err error
	if opts.MaxCost, err = formFloat(c, "max_cost"); err != nil {
		return opts, err
	}
	if opts.MinQuality, err = formFloat(c, "min_quality"); err != nil {
		return opts, err
	}
	if opts.AllowPremium, err = formBool(c, "allow_premium"); err != nil {
		return opts, err
	}
	if opts.Validate, err = formBool(c, "validate"); err != nil {
		return opts, err
	}
	if opts.Preprocess, err = formBool(c, "preprocess"); err != nil {
		return opts, err
	}
	return opts, nil
}

func formValue(c *gin.Context, key string) (string, bool) {
	if v, ok := c.GetPostForm(key); ok && v != "" {
		return v, true
	}
	if v, ok := c.GetQuery(key); ok && v != "" {
		return v, true
	}
	return "", false
}

func formFloat(c *gin.Context, key string) (*float64, error) {
	raw, ok := formValue(c, key)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &v, nil
}

func formBool(c *gin.Context, key string) (*bool, error) {
	raw, ok := formValue(c, key)
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &v, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, document.ErrInvalidUpload), errors.Is(err, document.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrTaskNotReady):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Warn(message, fields...)
	}

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
