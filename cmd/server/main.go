package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-recognizer/api/handlers"
	"github.com/feichai0017/document-recognizer/api/middleware"
	"github.com/feichai0017/document-recognizer/api/routes"
	"github.com/feichai0017/document-recognizer/config"
	"github.com/feichai0017/document-recognizer/internal/agent"
	"github.com/feichai0017/document-recognizer/internal/service/document"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

func main() {
	serverCfg := config.GetServerConfig()

	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding(serverCfg.LogEncoding),
		logger.WithOutputPaths([]string{"stdout", "logs/server.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "recognizer-api"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := agent.NewPipeline(ctx, config.GetRecognitionConfig(), config.GetTextractConfig(), log)
	if err != nil {
		log.Fatal("Failed to build recognition pipeline", logger.Error(err))
	}
	defer pipeline.Close()

	docService, err := document.GetService(ctx, log, pipeline)
	if err != nil {
		log.Fatal("Failed to get document service", logger.Error(err))
	}
	defer docService.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = serverCfg.MaxUploadSize
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.SetupRoutes(r, handlers.NewHandlers(docService, log), serverCfg.CORSOrigins...)

	srv := &http.Server{
		Addr:    ":" + serverCfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Server stopped")
}
