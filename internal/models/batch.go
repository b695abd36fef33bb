package models

import "time"

// BatchFileResult is the per-file outcome of a batch run.
type BatchFileResult struct {
	File           string            `json:"file"`
	Success        bool              `json:"success"`
	Result         *EnhancedResult   `json:"result,omitempty"`
	Validation     *ValidationReport `json:"validation,omitempty"`
	Error          string            `json:"error,omitempty"`
	ProcessingTime time.Duration     `json:"processingTime"`
}

// Cost returns the recognition spend attributed to this file.
func (r *BatchFileResult) Cost() float64 {
	if r.Result == nil {
		return 0
	}
	return r.Result.CostUnits
}

type BatchSummary struct {
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	TotalTime   time.Duration `json:"totalTime"`
	AverageTime time.Duration `json:"averageTime"`
	TotalCost   float64       `json:"totalCost"`
}

// Summarize aggregates a final result set. TotalTime is the wall-clock time of
// the run when known (elapsed > 0), otherwise the sum of per-file times.
func Summarize(results []BatchFileResult, elapsed time.Duration) BatchSummary {
	s := BatchSummary{Total: len(results)}
	var sum time.Duration
	for i := range results {
		r := &results[i]
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		sum += r.ProcessingTime
		s.TotalCost += r.Cost()
	}
	s.TotalTime = elapsed
	if s.TotalTime <= 0 {
		s.TotalTime = sum
	}
	if s.Total > 0 {
		s.AverageTime = sum / time.Duration(s.Total)
	}
	return s
}
