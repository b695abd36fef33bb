package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// TextractAPI is the part of the Textract client the cloud backend calls.
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type TextractConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// MinConfidence drops LINE blocks below it from the text.
	MinConfidence float32
	FeatureTypes  []types.FeatureType
	CostPerPage   float64
	Timeout       time.Duration
	MaxPages      int
}

// Textract is the cloud backend.
type Textract struct {
	client     TextractAPI
	config     *TextractConfig
	rasterizer Rasterizer
	logger     logger.Logger
}

// NewTextract builds an AWS client from static credentials.
func NewTextract(ctx context.Context, cfg *TextractConfig, rasterizer Rasterizer, log logger.Logger) (*Textract, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})
	return NewTextractWithClient(client, cfg, rasterizer, log), nil
}

func NewTextractWithClient(client TextractAPI, cfg *TextractConfig, rasterizer Rasterizer, log logger.Logger) *Textract {
	if len(cfg.FeatureTypes) == 0 {
		cfg.FeatureTypes = []types.FeatureType{types.FeatureTypeTables, types.FeatureTypeForms}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	return &Textract{
		client:     client,
		config:     cfg,
		rasterizer: rasterizer,
		logger:     log.Named("textract"),
	}
}

func (t *Textract) Kind() models.BackendKind { return models.BackendCloud }

func (t *Textract) Source() models.Source { return models.SourceTextract }

func (t *Textract) Available() bool {
	return t.client != nil
}

func (t *Textract) EstimateCost(_ *models.Document, profile *models.DocumentProfile) float64 {
	return t.config.CostPerPage * float64(min(pageCount(profile), t.config.MaxPages))
}

// Recognize analyzes every page synchronously; AnalyzeDocument only accepts
// single-page input, so PDFs are rendered first.
func (t *Textract) Recognize(ctx context.Context, doc *models.Document) (*models.RecognitionResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	pages, err := pageImages(ctx, doc, t.rasterizer, t.config.MaxPages, "image/jpeg", "image/png", "image/tiff")
	if err != nil {
		return nil, NewError(t, err)
	}

	var (
		lines   []string
		confSum float64
		count   int
	)
	for i, page := range pages {
		output, err := t.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
			Document:     &types.Document{Bytes: page.data},
			FeatureTypes: t.config.FeatureTypes,
		})
		if err != nil {
			return nil, NewError(t, fmt.Errorf("failed to analyze page %d: %w", i+1, err))
		}

		if i > 0 {
			lines = append(lines, "")
		}
		for _, block := range output.Blocks {
			if block.BlockType != types.BlockTypeLine || block.Text == nil {
				continue
			}
			var conf float32
			if block.Confidence != nil {
				conf = *block.Confidence
			}
			confSum += float64(conf)
			count++
			if conf >= t.config.MinConfidence {
				lines = append(lines, *block.Text)
			}
		}
	}

	confidence := 0.0
	if count > 0 {
		confidence = confSum / float64(count)
	}

	result := &models.RecognitionResult{
		Text:       strings.TrimSpace(strings.Join(lines, "\n")),
		Confidence: models.ClampConfidence(confidence),
		Backend:    models.BackendCloud,
		Source:     models.SourceTextract,
		ElapsedMs:  elapsedSince(start),
		CostUnits:  t.config.CostPerPage * float64(len(pages)),
		Pages:      len(pages),
	}

	t.logger.Debug("Analyzed document",
		logger.String("file", doc.Name),
		logger.Int("pages", result.Pages),
		logger.Int("lines", count),
		logger.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func (t *Textract) Close() error {
	return nil
}
