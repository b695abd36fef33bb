package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-recognizer/api/handlers"
	"github.com/feichai0017/document-recognizer/api/middleware"
)

func SetupRoutes(r *gin.Engine, h *handlers.Handlers, origins ...string) {
	r.Use(middleware.CORS(origins...))

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health)
	v1.GET("/usage", h.Document.GetUsage)

	docs := v1.Group("/documents")
	{
		docs.POST("/process", h.Document.ProcessDocument)
		docs.POST("/batch", h.Document.ProcessBatch)
		docs.GET("/status/:taskId", h.Document.GetStatus)
		docs.GET("/download/:taskId", h.Document.DownloadResult)
		docs.GET("/report/:taskId", h.Document.GetReport)
		docs.DELETE("/task/:taskId", h.Document.CancelTask)
	}
}
