package recognition

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/feichai0017/document-recognizer/internal/models"
)

// cost is accumulated in millionths of a unit so it fits an atomic integer
const costScale = 1_000_000

var (
	knownBackends = []models.BackendKind{models.BackendLocal, models.BackendCloud}
	knownSources  = []models.Source{
		models.SourceNativeText,
		models.SourceTesseract,
		models.SourceTextract,
		models.SourceOpenAI,
		models.SourceGemini,
	}
)

// UsageStats counts recognition attempts. The maps are fixed at construction
// and only their counters change, so no lock is needed.
type UsageStats struct {
	totalScans      atomic.Int64
	successfulScans atomic.Int64
	failedScans     atomic.Int64
	costMicros      atomic.Int64

	byBackend map[models.BackendKind]*atomic.Int64
	bySource  map[models.Source]*atomic.Int64
}

func NewUsageStats() *UsageStats {
	s := &UsageStats{
		byBackend: make(map[models.BackendKind]*atomic.Int64, len(knownBackends)),
		bySource:  make(map[models.Source]*atomic.Int64, len(knownSources)),
	}
	for _, k := range knownBackends {
		s.byBackend[k] = new(atomic.Int64)
	}
	for _, src := range knownSources {
		s.bySource[src] = new(atomic.Int64)
	}
	return s
}

func (s *UsageStats) recordSuccess(result *models.RecognitionResult) {
	s.totalScans.Add(1)
	s.successfulScans.Add(1)
	s.costMicros.Add(int64(math.Round(result.CostUnits * costScale)))
	if c, ok := s.byBackend[result.Backend]; ok {
		c.Add(1)
	}
	if c, ok := s.bySource[result.Source]; ok {
		c.Add(1)
	}
}

func (s *UsageStats) recordFailure() {
	s.totalScans.Add(1)
	s.failedScans.Add(1)
}

// Snapshot copies the counters. Concurrent updates may land between two
// reads, so totals are only exact once activity stops.
func (s *UsageStats) Snapshot() models.UsageSnapshot {
	snap := models.UsageSnapshot{
		TotalScans:      s.totalScans.Load(),
		SuccessfulScans: s.successfulScans.Load(),
		FailedScans:     s.failedScans.Load(),
		TotalCost:       float64(s.costMicros.Load()) / costScale,
		ByBackend:       make(map[models.BackendKind]int64, len(s.byBackend)),
		BySource:        make(map[models.Source]int64, len(s.bySource)),
		TakenAt:         time.Now(),
	}
	for k, c := range s.byBackend {
		snap.ByBackend[k] = c.Load()
	}
	for k, c := range s.bySource {
		snap.BySource[k] = c.Load()
	}
	if snap.TotalScans > 0 {
		snap.SuccessRate = float64(snap.SuccessfulScans) / float64(snap.TotalScans)
	}
	return snap
}

func (s *UsageStats) Reset() {
	s.totalScans.Store(0)
	s.successfulScans.Store(0)
	s.failedScans.Store(0)
	s.costMicros.Store(0)
	for _, c := range s.byBackend {
		c.Store(0)
	}
	for _, c := range s.bySource {
		c.Store(0)
	}
}
