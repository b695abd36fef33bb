package extraction

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/feichai0017/document-recognizer/internal/models"
)

// date layouts tried in order, day-first for slash and dot forms
var dateLayouts = []string{
	"2006-01-02",
	"2/1/2006",
	"2.1.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2,2006",
	"2 Jan 2006",
	"2 January 2006",
}

var currencyCodes = map[string]string{
	"$":    "USD",
	"€":    "EUR",
	"£":    "GBP",
	"¥":    "JPY",
	"₹":    "INR",
	"₦":    "NGN",
	"FCFA": "XOF",
	"CFA":  "XOF",
}

// Normalizer turns raw extracted fields into typed, bounded values.
type Normalizer struct {
	vendors *VendorTable
}

// NewNormalizer returns a normalizer; vendors may be nil, in which case
// vendor names are only cleaned up.
func NewNormalizer(vendors *VendorTable) *Normalizer {
	return &Normalizer{vendors: vendors}
}

func (n *Normalizer) Normalize(extracted models.ExtractedData) models.NormalizedData {
	var out models.NormalizedData

	if amount, ok := normalizeAmount(extracted); ok {
		out.Amount = &amount
	}
	if currency := NormalizeCurrency(extracted.Currency); currency != "" {
		out.Currency = &currency
	}
	for _, raw := range extracted.Dates {
		if date, ok := ParseDate(raw); ok {
			out.Date = &date
			break
		}
	}
	if number := strings.ToUpper(strings.TrimSpace(extracted.InvoiceNumber)); number != "" {
		out.InvoiceNumber = &number
	}
	if vendor := n.normalizeVendor(extracted.Vendor); vendor != "" {
		out.Vendor = &vendor
	}
	return out
}

func normalizeAmount(extracted models.ExtractedData) (float64, bool) {
	var raw float64
	switch {
	case extracted.Total != nil:
		raw = *extracted.Total
	default:
		m, ok := extracted.MaxAmount()
		if !ok {
			return 0, false
		}
		raw = m
	}

	rounded, _ := decimal.NewFromFloat(raw).Round(2).Float64()
	if rounded < models.MinNormalizedAmount || rounded > models.MaxNormalizedAmount {
		return 0, false
	}
	return rounded, true
}

// NormalizeCurrency maps a currency symbol or code to its ISO 4217 code.
func NormalizeCurrency(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if code, ok := currencyCodes[strings.ToUpper(raw)]; ok {
		return code
	}
	if code, ok := currencyCodes[raw]; ok {
		return code
	}
	return strings.ToUpper(raw)
}

// ParseDate reads a date with the first layout that matches.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	s = strings.Replace(s, ". ", " ", 1)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// "Sept" is common on receipts but unknown to time.Parse
	if strings.Contains(s, "Sept ") {
		return ParseDate(strings.Replace(s, "Sept ", "Sep ", 1))
	}
	return time.Time{}, false
}

func (n *Normalizer) normalizeVendor(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return ""
	}
	if n.vendors != nil {
		if match := n.vendors.Match(name); match.Found {
			return match.Canonical
		}
	}
	return name
}
