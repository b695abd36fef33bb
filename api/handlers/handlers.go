package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-recognizer/internal/service/document"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	started  time.Time
}

func NewHandlers(documentService document.DocumentProcessor, log logger.Logger) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, log),
		started:  time.Now(),
	}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
