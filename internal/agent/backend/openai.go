package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	CostPerPage float64
	Timeout     time.Duration
	MaxPages    int
	// DefaultConfidence is used when the model omits its own estimate.
	DefaultConfidence float64
}

// OpenAI is a premium contextual backend reading page images through a
// vision chat model.
type OpenAI struct {
	client     *openai.Client
	config     *OpenAIConfig
	rasterizer Rasterizer
	logger     logger.Logger
}

func NewOpenAI(cfg *OpenAIConfig, rasterizer Rasterizer, log logger.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 90
	}

	var client *openai.Client
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}

	return &OpenAI{
		client:     client,
		config:     cfg,
		rasterizer: rasterizer,
		logger:     log.Named("openai"),
	}
}

func (o *OpenAI) Kind() models.BackendKind { return models.BackendCloud }

func (o *OpenAI) Source() models.Source { return models.SourceOpenAI }

func (o *OpenAI) Available() bool { return o.client != nil }

func (o *OpenAI) EstimateCost(_ *models.Document, profile *models.DocumentProfile) float64 {
	return o.config.CostPerPage * float64(min(pageCount(profile), o.config.MaxPages))
}

func (o *OpenAI) Recognize(ctx context.Context, doc *models.Document) (*models.RecognitionResult, error) {
	if o.client == nil {
		return nil, NewError(o, errors.New("openai api key is not configured"))
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	pages, err := pageImages(ctx, doc, o.rasterizer, o.config.MaxPages, "image/jpeg", "image/png")
	if err != nil {
		return nil, NewError(o, err)
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: fmt.Sprintf("Transcribe this %d-page document.", len(pages)),
	}}
	for _, page := range pages {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + page.mime + ";base64," + base64.StdEncoding.EncodeToString(page.data),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: o.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: transcriptionPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
		MaxTokens:   o.config.MaxTokens,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, NewError(o, fmt.Errorf("failed to request transcription: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(o, fmt.Errorf("%w: no choices returned", errMalformedResponse))
	}

	t, err := parseTranscription(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, NewError(o, err)
	}

	result := &models.RecognitionResult{
		Text:       t.Text,
		Confidence: models.ClampConfidence(t.confidence(o.config.DefaultConfidence)),
		Backend:    models.BackendCloud,
		Source:     models.SourceOpenAI,
		ElapsedMs:  elapsedSince(start),
		CostUnits:  o.config.CostPerPage * float64(len(pages)),
		Pages:      len(pages),
	}

	o.logger.Debug("Transcribed document",
		logger.String("file", doc.Name),
		logger.String("model", o.config.Model),
		logger.Int("pages", result.Pages),
		logger.Int("prompt_tokens", resp.Usage.PromptTokens),
		logger.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return result, nil
}

func (o *OpenAI) Close() error { return nil }
