// Package strategy picks the cheapest recognition tier that reaches the
// quality floor within a cost budget.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/document-recognizer/internal/agent/backend"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

const DefaultMinQuality = 70.0

// Executor runs one accounted backend attempt and names the backend to retry
// once when an attempt fails.
type Executor interface {
	AttemptWith(ctx context.Context, doc *models.Document, b backend.Backend) (*models.RecognitionResult, error)
	// Fallback returns the backend to try after failed failed, nil for none.
	Fallback(failed backend.Backend) backend.Backend
}

type Options struct {
	MaxCost      float64
	MinQuality   float64
	AllowPremium bool
}

// Decision is the outcome of a selection.
type Decision struct {
	Result         *models.RecognitionResult
	Tier           models.Tier
	Degraded       bool
	Recommendation string
	Spent          float64
	// Attempts lists every result obtained, in tier order.
	Attempts []*models.RecognitionResult
}

type Selector struct {
	backends *backend.Set
	executor Executor
	logger   logger.Logger
}

func NewSelector(backends *backend.Set, executor Executor, log logger.Logger) *Selector {
	return &Selector{
		backends: backends,
		executor: executor,
		logger:   log.Named("strategy"),
	}
}

// attempt is one tier outcome kept for the exhausted case.
type attempt struct {
	tier   models.Tier
	result *models.RecognitionResult
}

// selection is the state of one Select call.
type selection struct {
	*Selector
	doc      *models.Document
	profile  *models.DocumentProfile
	opts     Options
	log      logger.Logger
	spent    float64
	attempts []attempt
	tried    map[backend.Backend]bool
	lastErr  error
}

// affordable reports whether b fits the remaining budget.
func (s *selection) affordable(b backend.Backend, tier models.Tier) bool {
	cost := b.EstimateCost(s.doc, s.profile)
	if s.spent+cost <= s.opts.MaxCost {
		return true
	}
	s.log.Debug("Tier over budget",
		logger.String("tier", string(tier)),
		logger.Float64("cost", cost),
		logger.Float64("spent", s.spent),
		logger.Float64("max_cost", s.opts.MaxCost),
	)
	return false
}

// run invokes b and, when it fails, the executor's fallback once if that
// backend is affordable and was not tried yet. The result is recorded under
// the tier of the backend that produced it.
func (s *selection) run(ctx context.Context, b backend.Backend, tier models.Tier) *attempt {
	s.tried[b] = true
	result, err := s.executor.AttemptWith(ctx, s.doc, b)
	if err == nil {
		return s.record(tier, result)
	}
	s.lastErr = err
	s.log.Warn("Tier failed", logger.String("tier", string(tier)), logger.Error(err))

	fb := s.executor.Fallback(b)
	if !backend.IsAvailable(fb) || s.tried[fb] {
		return nil
	}
	fbTier := s.tierOf(fb)
	if !s.affordable(fb, fbTier) {
		return nil
	}
	s.tried[fb] = true
	s.log.Warn("Trying fallback backend",
		logger.String("tier", string(tier)),
		logger.String("fallback", string(fb.Source())),
	)
	result, err = s.executor.AttemptWith(ctx, s.doc, fb)
	if err != nil {
		s.lastErr = err
		s.log.Warn("Fallback failed", logger.Error(err))
		return nil
	}
	return s.record(fbTier, result)
}

func (s *selection) record(tier models.Tier, result *models.RecognitionResult) *attempt {
	s.spent += result.CostUnits
	s.attempts = append(s.attempts, attempt{tier: tier, result: result})
	return &s.attempts[len(s.attempts)-1]
}

func (s *selection) accept(a *attempt) *Decision {
	d := &Decision{Result: a.result, Tier: a.tier, Spent: s.spent}
	for _, prev := range s.attempts {
		d.Attempts = append(d.Attempts, prev.result)
	}
	return d
}

func (s *Selector) tierOf(b backend.Backend) models.Tier {
	switch b {
	case s.backends.Local:
		return models.TierFree
	case s.backends.Premium:
		return models.TierPremium
	}
	return models.TierEconomic
}

// Select walks the free, economic and premium tiers in order. A tier whose
// estimated cost exceeds the remaining budget is never invoked.
func (s *Selector) Select(ctx context.Context, doc *models.Document, profile *models.DocumentProfile, opts Options) (*Decision, error) {
	if opts.MinQuality <= 0 {
		opts.MinQuality = DefaultMinQuality
	}

	start := time.Now()
	sel := &selection{
		Selector: s,
		doc:      doc,
		profile:  profile,
		opts:     opts,
		log:      s.logger.With(logger.String("file", doc.Name)),
		tried:    make(map[backend.Backend]bool),
	}
	good := func(a *attempt) bool {
		return a != nil && a.result.Confidence >= opts.MinQuality
	}

	cloud := s.backends.Cloud
	economicRunnable := backend.IsAvailable(cloud) && cloud.EstimateCost(doc, profile) <= opts.MaxCost

	// free tier
	switch {
	case profile.IsNativeTextDocument:
		a := sel.record(models.TierFree, backend.FromNativeText(profile, time.Since(start)))
		if good(a) {
			sel.log.Debug("Using native text layer")
			return sel.accept(a), nil
		}
	case profile.Complexity == models.ComplexitySimple || !economicRunnable:
		if local := s.backends.Local; backend.IsAvailable(local) && sel.affordable(local, models.TierFree) {
			a := sel.run(ctx, local, models.TierFree)
			if good(a) {
				return sel.accept(a), nil
			}
			if a != nil {
				sel.log.Debug("Free tier below quality floor",
					logger.Float64("confidence", a.result.Confidence),
					logger.Float64("min_quality", opts.MinQuality),
				)
			}
		}
	}

	// economic tier
	if backend.IsAvailable(cloud) && !sel.tried[cloud] && sel.affordable(cloud, models.TierEconomic) {
		if a := sel.run(ctx, cloud, models.TierEconomic); good(a) {
			return sel.accept(a), nil
		}
	}

	// premium tier
	if premium := s.backends.Premium; opts.AllowPremium && backend.IsAvailable(premium) && sel.affordable(premium, models.TierPremium) {
		if a := sel.run(ctx, premium, models.TierPremium); a != nil && (a.tier == models.TierPremium || good(a)) {
			return sel.accept(a), nil
		}
	}

	if len(sel.attempts) == 0 {
		if sel.lastErr != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrNoStrategyAvailable, sel.lastErr)
		}
		return nil, models.ErrNoStrategyAvailable
	}

	best := bestOf(sel.attempts, models.TierFree)
	if best == nil {
		best = bestOf(sel.attempts, "")
	}
	d := sel.accept(best)
	d.Degraded = true
	d.Recommendation = fmt.Sprintf("quality below floor (%.1f < %.1f): manual review recommended",
		best.result.Confidence, opts.MinQuality)

	sel.log.Info("Recognition degraded",
		logger.String("tier", string(d.Tier)),
		logger.Float64("confidence", best.result.Confidence),
		logger.Float64("spent", sel.spent),
	)
	return d, nil
}

// bestOf returns the best attempt of tier, or of any tier when tier is "".
func bestOf(attempts []attempt, tier models.Tier) *attempt {
	var best *attempt
	for i := range attempts {
		a := &attempts[i]
		if tier != "" && a.tier != tier {
			continue
		}
		if best == nil || Better(a.result, best.result) {
			best = a
		}
	}
	return best
}

// Better reports whether a ranks above b: higher confidence, then lower cost,
// then faster.
func Better(a, b *models.RecognitionResult) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.CostUnits != b.CostUnits {
		return a.CostUnits < b.CostUnits
	}
	return a.ElapsedMs < b.ElapsedMs
}

// Best returns the highest ranked result, nil for an empty input.
func Best(results ...*models.RecognitionResult) *models.RecognitionResult {
	var best *models.RecognitionResult
	for _, r := range results {
		if r == nil {
			continue
		}
		if best == nil || Better(r, best) {
			best = r
		}
	}
	return best
}
