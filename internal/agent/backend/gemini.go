package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// ContentGenerator is satisfied by *genai.GenerativeModel.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey            string
	Model             string
	CostPerPage       float64
	Timeout           time.Duration
	MaxPages          int
	DefaultConfidence float64
}

// Gemini is the alternative premium contextual backend.
type Gemini struct {
	client     *genai.Client
	model      ContentGenerator
	config     *GeminiConfig
	rasterizer Rasterizer
	logger     logger.Logger
}

func NewGemini(ctx context.Context, cfg *GeminiConfig, rasterizer Rasterizer, log logger.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(transcriptionPrompt))

	g := NewGeminiWithModel(model, cfg, rasterizer, log)
	g.client = client
	return g, nil
}

func NewGeminiWithModel(model ContentGenerator, cfg *GeminiConfig, rasterizer Rasterizer, log logger.Logger) *Gemini {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 90
	}
	return &Gemini{
		model:      model,
		config:     cfg,
		rasterizer: rasterizer,
		logger:     log.Named("gemini"),
	}
}

func (g *Gemini) Kind() models.BackendKind { return models.BackendCloud }

func (g *Gemini) Source() models.Source { return models.SourceGemini }

func (g *Gemini) Available() bool { return g.model != nil }

func (g *Gemini) EstimateCost(_ *models.Document, profile *models.DocumentProfile) float64 {
	return g.config.CostPerPage * float64(min(pageCount(profile), g.config.MaxPages))
}

func (g *Gemini) Recognize(ctx context.Context, doc *models.Document) (*models.RecognitionResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	pages, err := pageImages(ctx, doc, g.rasterizer, g.config.MaxPages, "image/jpeg", "image/png", "image/webp", "image/heic", "image/heif")
	if err != nil {
		return nil, NewError(g, err)
	}

	parts := make([]genai.Part, 0, len(pages)+1)
	for _, page := range pages {
		parts = append(parts, genai.Blob{MIMEType: page.mime, Data: page.data})
	}
	parts = append(parts, genai.Text(fmt.Sprintf("Transcribe this %d-page document.", len(pages))))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, NewError(g, fmt.Errorf("failed to generate content: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewError(g, fmt.Errorf("%w: no candidates returned", errMalformedResponse))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	t, err := parseTranscription(sb.String())
	if err != nil {
		return nil, NewError(g, err)
	}

	result := &models.RecognitionResult{
		Text:       t.Text,
		Confidence: models.ClampConfidence(t.confidence(g.config.DefaultConfidence)),
		Backend:    models.BackendCloud,
		Source:     models.SourceGemini,
		ElapsedMs:  elapsedSince(start),
		CostUnits:  g.config.CostPerPage * float64(len(pages)),
		Pages:      len(pages),
	}

	g.logger.Debug("Transcribed document",
		logger.String("file", doc.Name),
		logger.String("model", g.config.Model),
		logger.Int("pages", result.Pages),
	)
	return result, nil
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
