package models

import "time"

// UsageSnapshot is a point-in-time copy of the recognition counters.
type UsageSnapshot struct {
	TotalScans      int64                 `json:"totalScans"`
	SuccessfulScans int64                 `json:"successfulScans"`
	FailedScans     int64                 `json:"failedScans"`
	TotalCost       float64               `json:"totalCost"`
	ByBackend       map[BackendKind]int64 `json:"byBackend"`
	BySource        map[Source]int64      `json:"bySource"`
	// SuccessRate is SuccessfulScans / TotalScans, 0 before any scan.
	SuccessRate float64   `json:"successRate"`
	TakenAt     time.Time `json:"takenAt"`
}
