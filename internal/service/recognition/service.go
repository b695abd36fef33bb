package recognition

import (
	"context"
	"fmt"
	"time"

	cfg "github.com/feichai0017/document-recognizer/config"
	"github.com/feichai0017/document-recognizer/internal/agent/strategy"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/extraction"
	"github.com/feichai0017/document-recognizer/internal/service/validation"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

// Profiler derives the document facts the strategy relies on.
type Profiler interface {
	Profile(ctx context.Context, doc *models.Document) *models.DocumentProfile
}

// Options control one recognition.
type Options struct {
	MaxCost    float64
	MinQuality float64
	// ForceProvider bypasses the strategy and runs that backend through the
	// orchestrator with its fallback.
	ForceProvider models.BackendKind
	AllowPremium  bool
	Validate      bool
}

// DefaultOptions reads the strategy defaults from configuration.
func DefaultOptions(rc *cfg.RecognitionConfig) Options {
	return Options{
		MaxCost:      rc.MaxCost,
		MinQuality:   rc.MinQuality,
		AllowPremium: rc.AllowPremium,
		Validate:     true,
	}
}

// Service chains profiling, recognition, field extraction and validation for
// one document.
type Service struct {
	profiler     Profiler
	orchestrator *Orchestrator
	selector     *strategy.Selector
	parser       *extraction.Parser
	normalizer   *extraction.Normalizer
	validator    *validation.Engine
	logger       logger.Logger
}

func NewService(orchestrator *Orchestrator, profiler Profiler, vendors *extraction.VendorTable, validator *validation.Engine, log logger.Logger) *Service {
	if validator == nil {
		validator = validation.NewEngine(vendors)
	}
	return &Service{
		profiler:     profiler,
		orchestrator: orchestrator,
		selector:     strategy.NewSelector(orchestrator.Backends(), orchestrator, log),
		parser:       extraction.NewParser(),
		normalizer:   extraction.NewNormalizer(vendors),
		validator:    validator,
		logger:       log.Named("recognition"),
	}
}

// Recognize returns the enhanced result and, when opts.Validate is set, the
// validation report behind its confidence and status.
func (s *Service) Recognize(ctx context.Context, doc *models.Document, opts Options) (*models.EnhancedResult, *models.ValidationReport, error) {
	start := time.Now()
	profile := s.profiler.Profile(ctx, doc)

	var decision *strategy.Decision
	if opts.ForceProvider != "" {
		rec, err := s.orchestrator.ProcessWith(ctx, doc, opts.ForceProvider)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to recognize %s: %w", doc.Name, err)
		}
		decision = &strategy.Decision{Result: rec, Tier: tierOf(rec), Spent: rec.CostUnits}
	} else {
		var err error
		decision, err = s.selector.Select(ctx, doc, profile, strategy.Options{
			MaxCost:      opts.MaxCost,
			MinQuality:   opts.MinQuality,
			AllowPremium: opts.AllowPremium,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to recognize %s: %w", doc.Name, err)
		}
	}

	rec := decision.Result
	extracted := s.parser.Parse(rec.Text)
	result := &models.EnhancedResult{
		Extracted:      extracted,
		Normalized:     s.normalizer.Normalize(extracted),
		Recognition:    rec,
		Confidence:     models.ClampConfidence(rec.Confidence),
		Suggestions:    []string{},
		Tier:           decision.Tier,
		Degraded:       decision.Degraded,
		Recommendation: decision.Recommendation,
		CostUnits:      decision.Spent,
	}
	if decision.Recommendation != "" {
		result.Suggestions = append(result.Suggestions, decision.Recommendation)
	}

	var report *models.ValidationReport
	if opts.Validate {
		report = s.validator.Validate(result)
		validation.Apply(result, report)
	} else {
		result.ValidationStatus = validation.StatusFor(0, 0, result.Confidence)
	}

	s.logger.Info("Document recognized",
		logger.String("file", doc.Name),
		logger.String("tier", string(result.Tier)),
		logger.String("source", string(rec.Source)),
		logger.Float64("confidence", result.Confidence),
		logger.String("status", string(result.ValidationStatus)),
		logger.Bool("degraded", result.Degraded),
		logger.Duration("elapsed", time.Since(start)),
	)
	return result, report, nil
}

// Usage returns a snapshot of the orchestrator counters.
func (s *Service) Usage() models.UsageSnapshot {
	return s.orchestrator.Stats().Snapshot()
}

func tierOf(rec *models.RecognitionResult) models.Tier {
	switch {
	case rec.Backend == models.BackendLocal:
		return models.TierFree
	case rec.Source == models.SourceOpenAI || rec.Source == models.SourceGemini:
		return models.TierPremium
	}
	return models.TierEconomic
}
