package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/feichai0017/document-recognizer/internal/agent/backend"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderCloud Provider = "cloud"
	ProviderAuto  Provider = "auto"
)

// AutoCloudThreshold is the size above which auto routing prefers the cloud.
const AutoCloudThreshold = 2 << 20

// ParseProvider accepts local, cloud or auto; anything else is an error.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderLocal, ProviderCloud, ProviderAuto:
		return p, nil
	case "":
		return ProviderAuto, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

type OrchestratorConfig struct {
	Provider Provider
	// Fallback is retried once after a failure; empty disables it.
	Fallback models.BackendKind
}

// Orchestrator runs a backend with a single fallback and keeps the usage
// counters of every attempt.
type Orchestrator struct {
	backends *backend.Set
	config   OrchestratorConfig
	stats    *UsageStats
	logger   logger.Logger
}

func NewOrchestrator(backends *backend.Set, cfg OrchestratorConfig, log logger.Logger) *Orchestrator {
	if cfg.Provider == "" {
		cfg.Provider = ProviderAuto
	}
	return &Orchestrator{
		backends: backends,
		config:   cfg,
		stats:    NewUsageStats(),
		logger:   log.Named("orchestrator"),
	}
}

func (o *Orchestrator) Backends() *backend.Set {
	return o.backends
}

func (o *Orchestrator) Stats() *UsageStats {
	return o.stats
}

// Route picks the backend kind for doc under the configured provider.
func (o *Orchestrator) Route(doc *models.Document) models.BackendKind {
	switch o.config.Provider {
	case ProviderLocal:
		return models.BackendLocal
	case ProviderCloud:
		return models.BackendCloud
	}
	if backend.IsAvailable(o.backends.Cloud) && (doc.FileType() == models.PDF || doc.Size > AutoCloudThreshold) {
		return models.BackendCloud
	}
	return models.BackendLocal
}

func (o *Orchestrator) Process(ctx context.Context, doc *models.Document) (*models.RecognitionResult, error) {
	return o.ProcessWith(ctx, doc, o.Route(doc))
}

// ProcessWith runs kind and, when it fails, the configured fallback once.
func (o *Orchestrator) ProcessWith(ctx context.Context, doc *models.Document, kind models.BackendKind) (*models.RecognitionResult, error) {
	result, err := o.Attempt(ctx, doc, kind)
	if err == nil {
		return result, nil
	}

	fallback := o.config.Fallback
	if fallback == kind || o.Fallback(o.backends.Get(kind)) == nil {
		return nil, err
	}

	o.logger.Warn("Primary backend failed, trying fallback",
		logger.String("file", doc.Name),
		logger.String("primary", string(kind)),
		logger.String("fallback", string(fallback)),
		logger.Error(err),
	)
	return o.Attempt(ctx, doc, fallback)
}

// Fallback returns the configured fallback backend when it is available and
// is not failed itself.
func (o *Orchestrator) Fallback(failed backend.Backend) backend.Backend {
	if o.config.Fallback == "" {
		return nil
	}
	fb := o.backends.Get(o.config.Fallback)
	if !backend.IsAvailable(fb) || fb == failed {
		return nil
	}
	return fb
}

// Attempt makes one accounted call to the backend of kind, without fallback.
// A missing or unavailable backend counts as a failed attempt.
func (o *Orchestrator) Attempt(ctx context.Context, doc *models.Document, kind models.BackendKind) (*models.RecognitionResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
	b := o.backends.Get(kind)
	if !backend.IsAvailable(b) {
		o.stats.recordFailure()
		return nil, &models.BackendError{
			Backend:  kind,
			Category: models.FailureUnavailable,
			Err:      fmt.Errorf("%s backend is not configured", kind),
		}
	}
	return o.AttemptWith(ctx, doc, b)
}

// AttemptWith makes one accounted call to b.
func (o *Orchestrator) AttemptWith(ctx context.Context, doc *models.Document, b backend.Backend) (*models.RecognitionResult, error) {
	result, err := b.Recognize(ctx, doc)
	if err != nil {
		o.stats.recordFailure()
		return nil, backend.NewError(b, err)
	}

	o.stats.recordSuccess(result)
	o.logger.Debug("Recognition attempt succeeded",
		logger.String("file", doc.Name),
		logger.String("source", string(result.Source)),
		logger.Float64("confidence", result.Confidence),
		logger.Float64("cost", result.CostUnits),
		logger.Int64("elapsed_ms", result.ElapsedMs),
	)
	return result, nil
}
