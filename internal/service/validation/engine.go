// Package validation cross-checks the fields of a recognized document and
// derives the final confidence and status.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/extraction"
)

const (
	// StatusFloor is the confidence under which a result needs attention.
	StatusFloor = 70.0

	minPlausibleTotal = 100.0
	maxPlausibleTotal = 100_000_000.0

	// relative tolerance between the total and other amount evidence
	amountTolerance = 0.10
	// absolute tolerance of qty x unit against an item total
	itemTolerance = 1.0

	vendorBonusThreshold = 0.8
	vendorBonus          = 5.0
	itemsBonus           = 5.0
	warningPenalty       = 2.0
)

var severityPenalty = map[models.Severity]float64{
	models.SeverityCritical: 20,
	models.SeverityHigh:     10,
	models.SeverityMedium:   5,
}

// VendorMatcher looks a vendor name up in the known-vendor table.
type VendorMatcher interface {
	Match(name string) models.VendorMatch
}

type Option func(*Engine)

// WithClock replaces time.Now for date plausibility checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is stateless apart from its configuration and safe for concurrent
// use.
type Engine struct {
	vendors VendorMatcher
	now     func() time.Time
}

func NewEngine(vendors VendorMatcher, opts ...Option) *Engine {
	e := &Engine{vendors: vendors, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// report accumulates findings while the checks run.
type report struct {
	*models.ValidationReport
}

func (r report) fail(field string, severity models.Severity, format string, args ...any) {
	r.Errors = append(r.Errors, models.FieldError{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	})
}

func (r report) warn(field, suggestion, format string, args ...any) {
	r.Warnings = append(r.Warnings, models.FieldWarning{
		Field:      field,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	})
	if suggestion != "" {
		r.suggest(suggestion)
	}
}

func (r report) suggest(s string) {
	for _, existing := range r.Suggestions {
		if existing == s {
			return
		}
	}
	r.Suggestions = append(r.Suggestions, s)
}

// Validate runs every check against result. It never fails: findings are
// reported as data.
func (e *Engine) Validate(result *models.EnhancedResult) *models.ValidationReport {
	r := report{&models.ValidationReport{
		Errors:      []models.FieldError{},
		Warnings:    []models.FieldWarning{},
		Suggestions: []string{},
	}}

	total, hasTotal := amountOf(result)
	e.checkAmount(r, result, total, hasTotal)
	e.checkDate(r, result)
	e.checkLineItemTotals(r, result.Extracted.LineItems, total, hasTotal)
	e.checkVendor(r, result)
	e.checkItems(r, result.Extracted.LineItems)

	r.Confidence = e.confidence(r, result)
	r.Status = StatusFor(len(r.Errors), len(r.Warnings), r.Confidence)
	return r.ValidationReport
}

// StatusFor is the status rule shared by validated and unvalidated results.
func StatusFor(errors, warnings int, confidence float64) models.ValidationStatus {
	switch {
	case errors > 0:
		return models.ValidationError
	case confidence < StatusFloor || warnings > 2:
		return models.ValidationWarning
	default:
		return models.ValidationValid
	}
}

// amountOf returns the document total as read: the labelled total, else the
// largest amount candidate, else the normalized amount.
func amountOf(result *models.EnhancedResult) (float64, bool) {
	if result.Extracted.Total != nil {
		return *result.Extracted.Total, true
	}
	if m, ok := result.Extracted.MaxAmount(); ok {
		return m, true
	}
	if result.Normalized.Amount != nil {
		return *result.Normalized.Amount, true
	}
	return 0, false
}

func (e *Engine) checkAmount(r report, result *models.EnhancedResult, total float64, ok bool) {
	if !ok || total <= 0 {
		r.fail("amount", models.SeverityCritical, "total amount is missing")
		r.suggest("Check the document total manually")
		return
	}

	if m, found := result.Extracted.MaxAmount(); found && math.Abs(total-m) > amountTolerance*total {
		r.warn("amount", "Confirm which amount is the document total",
			"total %.2f differs from the largest amount %.2f by more than 10%%", total, m)
	}
	if total < minPlausibleTotal || total > maxPlausibleTotal {
		r.warn("amount", "Verify the amount was read correctly",
			"total %.2f is outside the usual range", total)
	}
}

func (e *Engine) checkDate(r report, result *models.EnhancedResult) {
	date, ok := dateOf(result)
	if !ok {
		r.warn("date", "Add the document date", "document date is missing")
		return
	}

	now := e.now()
	switch {
	case date.After(now.AddDate(1, 0, 0)):
		r.fail("date", models.SeverityHigh, "date %s is more than a year in the future", date.Format(time.DateOnly))
		r.suggest("Check the date for recognition errors in the year")
	case date.After(now):
		r.warn("date", "Confirm the date is not a due date", "date %s is in the future", date.Format(time.DateOnly))
	case date.Before(now.AddDate(-2, 0, 0)):
		r.warn("date", "Confirm the document is still relevant", "date %s is more than two years old", date.Format(time.DateOnly))
	}
}

func dateOf(result *models.EnhancedResult) (time.Time, bool) {
	if result.Normalized.Date != nil {
		return *result.Normalized.Date, true
	}
	for _, raw := range result.Extracted.Dates {
		if d, ok := extraction.ParseDate(raw); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

func (e *Engine) checkLineItemTotals(r report, items []models.LineItem, total float64, hasTotal bool) {
	if len(items) == 0 {
		return
	}

	var sum float64
	for i, item := range items {
		sum += item.Total
		if math.Abs(item.Quantity*item.UnitPrice-item.Total) > itemTolerance {
			r.warn(fmt.Sprintf("lineItems[%d]", i), "Check quantity and unit price",
				"%.2f x %.2f does not match item total %.2f", item.Quantity, item.UnitPrice, item.Total)
		}
	}
	if hasTotal && total > 0 && math.Abs(sum-total) > amountTolerance*total {
		r.warn("lineItems", "Look for missing lines, taxes or discounts",
			"line items sum to %.2f but the total is %.2f", sum, total)
	}
}

func (e *Engine) checkVendor(r report, result *models.EnhancedResult) {
	name := result.Extracted.Vendor
	if name == "" && result.Normalized.Vendor != nil {
		name = *result.Normalized.Vendor
	}

	r.VendorMatch = models.VendorMatch{Method: extraction.MatchNotFound}
	if name == "" {
		r.warn("vendor", "Add the vendor name", "vendor is missing")
		return
	}
	if len([]rune(name)) < 3 {
		r.warn("vendor", "Check the vendor name", "vendor name %q is too short", name)
	}
	if e.vendors != nil {
		r.VendorMatch = e.vendors.Match(name)
	}
	if !r.VendorMatch.Found {
		r.warn("vendor", "Add the vendor to the known-vendor list", "vendor %q is not a known vendor", name)
	}
}

func (e *Engine) checkItems(r report, items []models.LineItem) {
	if len(items) == 0 {
		r.warn("lineItems", "Check whether the document lists items", "no line items found")
		return
	}

	for i, item := range items {
		field := fmt.Sprintf("lineItems[%d]", i)
		if len([]rune(item.Description)) < 3 {
			r.warn(field, "", "item description is missing or too short")
		}
		if item.Quantity <= 0 {
			r.warn(field, "", "item quantity %.2f is not positive", item.Quantity)
		}
		if item.UnitPrice <= 0 {
			r.warn(field, "", "item unit price %.2f is not positive", item.UnitPrice)
		}
	}
}

func (e *Engine) confidence(r report, result *models.EnhancedResult) float64 {
	c := result.Confidence
	if result.Recognition != nil {
		c = result.Recognition.Confidence
	}

	for _, fe := range r.Errors {
		c -= severityPenalty[fe.Severity]
	}
	c -= warningPenalty * float64(len(r.Warnings))

	if r.VendorMatch.Confidence > vendorBonusThreshold {
		c += vendorBonus
	}
	if allComplete(result.Extracted.LineItems) {
		c += itemsBonus
	}
	return models.ClampConfidence(c)
}

func allComplete(items []models.LineItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.Complete() {
			return false
		}
	}
	return true
}

// Apply copies the outcome of a report onto the result it validated.
func Apply(result *models.EnhancedResult, rep *models.ValidationReport) {
	result.Confidence = rep.Confidence
	result.ValidationStatus = rep.Status
	result.Suggestions = append(result.Suggestions, rep.Suggestions...)
}
