package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	cfg "github.com/feichai0017/document-recognizer/config"
	"github.com/feichai0017/document-recognizer/internal/agent/backend"
	"github.com/feichai0017/document-recognizer/internal/agent/document"
	imgproc "github.com/feichai0017/document-recognizer/internal/agent/document/image"
	"github.com/feichai0017/document-recognizer/internal/agent/document/pdf"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/batch"
	"github.com/feichai0017/document-recognizer/internal/service/extraction"
	"github.com/feichai0017/document-recognizer/internal/service/recognition"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// BackendFactory builds the recognition backends from configuration. A cloud
// backend is only registered when credentials are present.
type BackendFactory struct {
	recognition *cfg.RecognitionConfig
	textract    *cfg.TextractConfig
	rasterizer  backend.Rasterizer
	logger      logger.Logger
}

func NewBackendFactory(recognition *cfg.RecognitionConfig, textract *cfg.TextractConfig, log logger.Logger) *BackendFactory {
	return &BackendFactory{
		recognition: recognition,
		textract:    textract,
		rasterizer:  pdf.NewProcessor(log),
		logger:      log.Named("backend-factory"),
	}
}

func (f *BackendFactory) Build(ctx context.Context) (*backend.Set, error) {
	set := &backend.Set{
		Local: backend.NewTesseract(backend.TesseractConfig{
			Languages: f.recognition.TesseractLanguages,
			MaxPages:  f.recognition.MaxPages,
		}, f.rasterizer, f.logger),
	}

	if f.textract != nil && f.textract.HasCredentials() {
		cloud, err := backend.NewTextract(ctx, &backend.TextractConfig{
			Region:        f.textract.Region,
			Endpoint:      f.textract.Endpoint,
			AccessKey:     f.textract.AccessKey,
			SecretKey:     f.textract.SecretKey,
			MinConfidence: float32(f.textract.MinConfidence),
			FeatureTypes:  []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms},
			CostPerPage:   f.recognition.CloudCostPerPage,
			Timeout:       f.textract.Timeout,
			MaxPages:      f.recognition.MaxPages,
		}, f.rasterizer, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create textract backend: %w", err)
		}
		set.Cloud = cloud
	} else {
		f.logger.Info("No cloud credentials configured, cloud backend disabled")
	}

	premium, err := f.buildPremium(ctx)
	if err != nil {
		return nil, err
	}
	set.Premium = premium

	f.logger.Info("Recognition backends ready",
		logger.Bool("cloud", set.Cloud != nil),
		logger.Bool("premium", set.Premium != nil),
		logger.Strings("languages", f.recognition.TesseractLanguages),
	)
	return set, nil
}

func (f *BackendFactory) buildPremium(ctx context.Context) (backend.Backend, error) {
	rc := f.recognition
	switch strings.ToLower(rc.PremiumProvider) {
	case "":
		return nil, nil
	case "openai":
		if rc.OpenAIAPIKey == "" {
			f.logger.Warn("Premium provider openai selected without an api key")
			return nil, nil
		}
		return backend.NewOpenAI(&backend.OpenAIConfig{
			APIKey:      rc.OpenAIAPIKey,
			BaseURL:     rc.OpenAIBaseURL,
			Model:       rc.OpenAIModel,
			CostPerPage: rc.PremiumCostPerPage,
			Timeout:     rc.PremiumTimeout,
		}, f.rasterizer, f.logger), nil
	case "gemini":
		if rc.GeminiAPIKey == "" {
			f.logger.Warn("Premium provider gemini selected without an api key")
			return nil, nil
		}
		g, err := backend.NewGemini(ctx, &backend.GeminiConfig{
			APIKey:      rc.GeminiAPIKey,
			Model:       rc.GeminiModel,
			CostPerPage: rc.PremiumCostPerPage,
			Timeout:     rc.PremiumTimeout,
		}, f.rasterizer, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini backend: %w", err)
		}
		return g, nil
	}
	return nil, fmt.Errorf("unsupported premium provider: %s", rc.PremiumProvider)
}

// Pipeline is the fully wired recognition chain shared by the binaries.
type Pipeline struct {
	Backends   *backend.Set
	Recognizer *recognition.Service
	Runner     *batch.Runner
	Options    recognition.Options
}

// NewPipeline builds backends, profiler, vendor table and batch runner from
// configuration.
func NewPipeline(ctx context.Context, rc *cfg.RecognitionConfig, tc *cfg.TextractConfig, log logger.Logger) (*Pipeline, error) {
	provider, err := recognition.ParseProvider(rc.Provider)
	if err != nil {
		return nil, err
	}
	fallback := models.BackendKind(strings.ToLower(rc.Fallback))
	if fallback != "" && !fallback.Valid() {
		return nil, fmt.Errorf("unknown fallback backend %q", rc.Fallback)
	}

	vendors, err := extraction.LoadVendorTable(rc.VendorsFile)
	if err != nil {
		return nil, err
	}

	factory := NewBackendFactory(rc, tc, log)
	set, err := factory.Build(ctx)
	if err != nil {
		return nil, err
	}

	orchestrator := recognition.NewOrchestrator(set, recognition.OrchestratorConfig{
		Provider: provider,
		Fallback: fallback,
	}, log)
	profiler := document.NewProfiler(pdf.NewProcessor(log), log)
	recognizer := recognition.NewService(orchestrator, profiler, vendors, nil, log)

	log.Info("Recognition pipeline ready",
		logger.String("provider", string(provider)),
		logger.String("fallback", string(fallback)),
		logger.Int("vendors", vendors.Len()),
	)

	return &Pipeline{
		Backends:   set,
		Recognizer: recognizer,
		Runner:     batch.NewRunner(recognizer, imgproc.NewPipeline(log), log),
		Options:    recognition.DefaultOptions(rc),
	}, nil
}

func (p *Pipeline) Close() error {
	return p.Backends.Close()
}
