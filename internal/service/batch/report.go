package batch

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/feichai0017/document-recognizer/internal/models"
)

var csvHeader = []string{
	"file", "status", "backend", "confidence", "amount", "vendor",
	"date", "invoice_number", "validation", "time_ms", "cost",
}

// reportRow is the flattened view of a file result shared by both reports.
type reportRow struct {
	File          string
	Status        string
	Backend       string
	Confidence    string
	Amount        string
	Vendor        string
	Date          string
	InvoiceNumber string
	Validation    string
	TimeMs        string
	Cost          string
	Error         string
}

func rowOf(r *models.BatchFileResult) reportRow {
	row := reportRow{
		File:   r.File,
		Status: "failed",
		TimeMs: strconv.FormatInt(r.ProcessingTime.Milliseconds(), 10),
		Cost:   fmt.Sprintf("%.2f", r.Cost()),
		Error:  r.Error,
	}
	if !r.Success || r.Result == nil {
		return row
	}

	res := r.Result
	row.Status = "success"
	row.Confidence = fmt.Sprintf("%.1f", res.Confidence)
	row.Validation = string(res.ValidationStatus)
	if res.Recognition != nil {
		row.Backend = string(res.Recognition.Backend)
	}
	if res.Normalized.Amount != nil {
		row.Amount = fmt.Sprintf("%.2f", *res.Normalized.Amount)
	}
	switch {
	case res.Normalized.Vendor != nil:
		row.Vendor = *res.Normalized.Vendor
	default:
		row.Vendor = res.Extracted.Vendor
	}
	if res.Normalized.Date != nil {
		row.Date = res.Normalized.Date.Format(time.DateOnly)
	}
	if res.Normalized.InvoiceNumber != nil {
		row.InvoiceNumber = *res.Normalized.InvoiceNumber
	}
	return row
}

// CSVReport writes one line per file under a fixed header.
func CSVReport(w io.Writer, out *Output) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for i := range out.Results {
		row := rowOf(&out.Results[i])
		record := []string{
			row.File, row.Status, row.Backend, row.Confidence, row.Amount, row.Vendor,
			row.Date, row.InvoiceNumber, row.Validation, row.TimeMs, row.Cost,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv report: %w", err)
	}
	return nil
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Batch recognition report</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 2rem; color: #1f2933; }
h1 { font-size: 1.4rem; }
.stats { display: flex; gap: 1rem; flex-wrap: wrap; margin-bottom: 1.5rem; }
.stat { background: #f5f7fa; border-radius: 6px; padding: .75rem 1rem; min-width: 8rem; }
.stat b { display: block; font-size: 1.3rem; }
table { border-collapse: collapse; width: 100%; font-size: .9rem; }
th, td { border-bottom: 1px solid #e4e7eb; padding: .4rem .6rem; text-align: left; }
th { background: #f5f7fa; }
tr.failed td { background: #fdecea; }
.valid { color: #18794e; } .warning { color: #b45309; } .error { color: #b91c1c; }
</style>
</head>
<body>
<h1>Batch recognition report</h1>
{{if .Finished}}<p>Finished {{.Finished}}</p>{{end}}
<div class="stats">
<div class="stat"><b>{{.Summary.Total}}</b>files</div>
<div class="stat"><b>{{.Summary.Successful}}</b>successful</div>
<div class="stat"><b>{{.Summary.Failed}}</b>failed</div>
<div class="stat"><b>{{.SuccessRate}}</b>success rate</div>
<div class="stat"><b>{{.TotalTime}}</b>total time</div>
<div class="stat"><b>{{.AverageTime}}</b>average per file</div>
<div class="stat"><b>{{.TotalCost}}</b>cost units</div>
</div>
<table>
<thead><tr><th>File</th><th>Status</th><th>Backend</th><th>Confidence</th><th>Amount</th><th>Vendor</th><th>Date</th><th>Invoice</th><th>Validation</th><th>Time (ms)</th><th>Cost</th></tr></thead>
<tbody>
{{range .Rows}}<tr class="{{.Status}}"><td>{{.File}}</td><td>{{.Status}}{{if .Error}}: {{.Error}}{{end}}</td><td>{{.Backend}}</td><td>{{.Confidence}}</td><td>{{.Amount}}</td><td>{{.Vendor}}</td><td>{{.Date}}</td><td>{{.InvoiceNumber}}</td><td class="{{.Validation}}">{{.Validation}}</td><td>{{.TimeMs}}</td><td>{{.Cost}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

// HTMLReport writes a self-contained page with aggregate statistics.
func HTMLReport(w io.Writer, out *Output) error {
	rows := make([]reportRow, len(out.Results))
	for i := range out.Results {
		rows[i] = rowOf(&out.Results[i])
	}

	s := out.Summary
	rate := 0.0
	if s.Total > 0 {
		rate = float64(s.Successful) / float64(s.Total) * 100
	}
	finished := ""
	if !out.FinishedAt.IsZero() {
		finished = out.FinishedAt.UTC().Format(time.RFC1123)
	}
	data := struct {
		Finished    string
		Summary     models.BatchSummary
		SuccessRate string
		TotalTime   string
		AverageTime string
		TotalCost   string
		Rows        []reportRow
	}{
		Finished:    finished,
		Summary:     s,
		SuccessRate: fmt.Sprintf("%.1f%%", rate),
		TotalTime:   s.TotalTime.Round(time.Millisecond).String(),
		AverageTime: s.AverageTime.Round(time.Millisecond).String(),
		TotalCost:   fmt.Sprintf("%.2f", s.TotalCost),
		Rows:        rows,
	}

	if err := htmlReport.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render html report: %w", err)
	}
	return nil
}
