package models

import "time"

// LineItem is one row of an invoice body.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Total       float64 `json:"total"`
}

// Complete reports whether every field of the item is populated.
func (li LineItem) Complete() bool {
	return len(li.Description) >= 3 && li.Quantity > 0 && li.UnitPrice > 0 && li.Total > 0
}

// ExtractedData is the raw output of the field parser.
type ExtractedData struct {
	Amounts       []float64  `json:"amounts"`
	Dates         []string   `json:"dates"`
	Vendor        string     `json:"vendor,omitempty"`
	InvoiceNumber string     `json:"invoiceNumber,omitempty"`
	Total         *float64   `json:"total,omitempty"`
	LineItems     []LineItem `json:"lineItems,omitempty"`
	// Currency is the raw marker found next to amounts ("$", "EUR", "FCFA").
	Currency string `json:"currency,omitempty"`
}

// MaxAmount returns the largest amount candidate and whether one exists.
func (e *ExtractedData) MaxAmount() (float64, bool) {
	if len(e.Amounts) == 0 {
		return 0, false
	}
	m := e.Amounts[0]
	for _, a := range e.Amounts[1:] {
		if a > m {
			m = a
		}
	}
	return m, true
}

// NormalizedData holds cleaned fields; each is nil when it could not be derived.
type NormalizedData struct {
	Amount        *float64   `json:"amount"`
	Currency      *string    `json:"currency"`
	Date          *time.Time `json:"date"`
	InvoiceNumber *string    `json:"invoiceNumber"`
	Vendor        *string    `json:"vendor"`
}

const (
	MinNormalizedAmount = 100.0
	MaxNormalizedAmount = 10_000_000.0
)

type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationWarning ValidationStatus = "warning"
	ValidationError   ValidationStatus = "error"
)

// EnhancedResult is the unit returned for one recognized document.
type EnhancedResult struct {
	Extracted        ExtractedData      `json:"extracted"`
	Normalized       NormalizedData     `json:"normalized"`
	Recognition      *RecognitionResult `json:"recognition"`
	Confidence       float64            `json:"confidence"`
	ValidationStatus ValidationStatus   `json:"validationStatus"`
	Suggestions      []string           `json:"suggestions"`
	Tier             Tier               `json:"tier,omitempty"`
	Degraded         bool               `json:"degraded"`
	Recommendation   string             `json:"recommendation,omitempty"`
	// CostUnits is the spend of every backend attempt made for the document,
	// not only the accepted one.
	CostUnits float64 `json:"costUnits"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// FieldError is a validation finding that counts as an error. It is data and
// never returned as a Go error.
type FieldError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

type FieldWarning struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// VendorMatch is the outcome of looking a vendor up in the known-vendor table.
type VendorMatch struct {
	Found      bool    `json:"found"`
	Canonical  string  `json:"canonical,omitempty"`
	Method     string  `json:"method"` // exact, alias, substring, not_found
	Confidence float64 `json:"confidence"`
}

type ValidationReport struct {
	Errors      []FieldError     `json:"errors"`
	Warnings    []FieldWarning   `json:"warnings"`
	Suggestions []string         `json:"suggestions"`
	Confidence  float64          `json:"confidence"`
	Status      ValidationStatus `json:"status"`
	VendorMatch VendorMatch      `json:"vendorMatch"`
}
