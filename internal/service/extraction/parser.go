package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/feichai0017/document-recognizer/internal/models"
)

const (
	// money with optional thousands groups (space, nbsp, dot or comma) and cents
	moneyExpr = `\d{1,3}(?:[ \x{00A0}.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?`
	// the same without space grouping, for column layouts
	cellExpr = `\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?`
	gap      = `(?:\t+|\s{2,})`
)

var (
	moneyPattern    = regexp.MustCompile(moneyExpr)
	currencyPattern = regexp.MustCompile(`[$€£¥₹₦]|\b(?:USD|EUR|GBP|JPY|INR|NGN|XOF|XAF|FCFA|CFA)\b`)
	amountContext   = regexp.MustCompile(`(?i)\b(?:total|amount|montant|subtotal|sub-total|tax|vat|tva|price|prix|due|balance|paid|pay|payer|sum)\b`)

	totalPattern = regexp.MustCompile(`(?i)\b(grand\s+total|amount\s+due|total\s+ttc|total\s+amount|net\s+[àa]\s+payer|montant(?:\s+total)?|total)\b[^\d\n]{0,12}?(` + moneyExpr + `)`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}[/.]\d{1,2}[/.]\d{4}\b`),
		regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2},\s*\d{4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}\b`),
	}

	invoicePattern = regexp.MustCompile(`(?i)\b(?:invoice|facture|inv|bill|receipt|re[çc]u)\b\.?\s*(?:no\.?|nr\.?|number|num(?:[ée]ro)?|n[°o]\.?|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`)

	itemMultiply = regexp.MustCompile(`^(.+?)\s+(\d+(?:[.,]\d+)?)\s*[xX×*]\s*(` + cellExpr + `)\s*=\s*(` + cellExpr + `)\s*$`)
	itemColumns  = regexp.MustCompile(`^(\S.*?)` + gap + `(\d+(?:[.,]\d+)?)` + gap + `(` + cellExpr + `)` + gap + `(` + cellExpr + `)\s*$`)

	vendorSkip = regexp.MustCompile(`(?i)^(?:invoice|facture|receipt|re[çc]u|bill|date|page|tel|phone|fax|email|www\.|http|total|qty|quantity|item|description)\b`)
)

// label priority when several totals are printed
var totalRank = map[string]int{
	"grand total":  5,
	"amount due":   4,
	"net a payer":  4,
	"total ttc":    3,
	"total amount": 3,
	"montant":      1,
	"total":        1,
}

// Parser recovers raw fields from recognized text. It keeps no state and is
// safe for concurrent use.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(text string) models.ExtractedData {
	var data models.ExtractedData
	lines := splitLines(text)

	data.Dates = findDates(text)
	data.InvoiceNumber = findInvoiceNumber(text)
	data.Vendor = findVendor(lines)
	data.Currency = currencyPattern.FindString(text)
	data.LineItems = findLineItems(lines)

	if total, ok := findTotal(lines); ok {
		data.Total = &total
	}
	data.Amounts = findAmounts(lines, data.InvoiceNumber)
	if data.Total != nil && !containsAmount(data.Amounts, *data.Total) {
		data.Amounts = append(data.Amounts, *data.Total)
	}
	return data
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimRightFunc(l, unicode.IsSpace))
	}
	return lines
}

// ParseNumber reads a printed amount, guessing the decimal separator: a final
// "." or "," followed by one or two digits is decimal, every other separator
// groups thousands.
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	decimalPart := ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		tail := s[i+1:]
		if len(tail) >= 1 && len(tail) <= 2 && isDigits(tail) {
			decimalPart = tail
			s = s[:i]
		}
	}

	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	if decimalPart != "" {
		sb.WriteByte('.')
		sb.WriteString(decimalPart)
	}

	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func parseFloat(s string) (float64, bool) {
	d, ok := ParseNumber(s)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func findTotal(lines []string) (float64, bool) {
	best, bestRank, found := 0.0, 0, false
	for _, line := range lines {
		for _, m := range totalPattern.FindAllStringSubmatch(line, -1) {
			label := normalizeLabel(m[1])
			if label == "total" && isSubtotal(line) {
				continue
			}
			v, ok := parseFloat(m[2])
			if !ok || v <= 0 {
				continue
			}
			// later lines win on equal rank: totals come after subtotals
			if rank := totalRank[label]; rank >= bestRank {
				best, bestRank, found = v, rank, true
			}
		}
	}
	return best, found
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	s = strings.ReplaceAll(s, "à", "a")
	if strings.HasPrefix(s, "montant") {
		return "montant"
	}
	return s
}

func isSubtotal(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "subtotal") || strings.Contains(l, "sub total") || strings.Contains(l, "sub-total") || strings.Contains(l, "sous-total") || strings.Contains(l, "sous total")
}

// findAmounts collects money-looking numbers from lines that talk about money
// once dates and the invoice number are blanked out.
func findAmounts(lines []string, invoiceNumber string) []float64 {
	var amounts []float64
	for _, line := range lines {
		if !amountContext.MatchString(line) && !currencyPattern.MatchString(line) {
			continue
		}
		clean := blankDates(line)
		if invoiceNumber != "" {
			clean = strings.ReplaceAll(clean, invoiceNumber, " ")
		}
		for _, m := range moneyPattern.FindAllString(clean, -1) {
			if v, ok := parseFloat(m); ok && v > 0 && !containsAmount(amounts, v) {
				amounts = append(amounts, v)
			}
		}
	}
	return amounts
}

func containsAmount(amounts []float64, v float64) bool {
	for _, a := range amounts {
		if a == v {
			return true
		}
	}
	return false
}

func blankDates(s string) string {
	for _, re := range datePatterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string { return strings.Repeat(" ", len(m)) })
	}
	return s
}

func findDates(text string) []string {
	type hit struct {
		pos   int
		value string
	}
	var hits []hit
	for _, re := range datePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{pos: loc[0], value: text[loc[0]:loc[1]]})
		}
	}
	// document order, first occurrence is usually the issue date
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	dates := make([]string, 0, len(hits))
	for _, h := range hits {
		dates = append(dates, h.value)
	}
	return dates
}

func findInvoiceNumber(text string) string {
	for _, m := range invoicePattern.FindAllStringSubmatch(text, -1) {
		candidate := strings.Trim(m[1], "-/")
		if strings.IndexFunc(candidate, unicode.IsDigit) >= 0 {
			return candidate
		}
	}
	return ""
}

// findVendor takes the first line that reads like a business name.
func findVendor(lines []string) string {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || vendorSkip.MatchString(line) {
			continue
		}
		if name, _, found := strings.Cut(line, ","); found {
			line = strings.TrimSpace(name)
		}
		letters := 0
		for _, r := range line {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 3 && !moneyOnly(line) {
			return line
		}
	}
	return ""
}

func moneyOnly(line string) bool {
	return strings.TrimSpace(moneyPattern.ReplaceAllString(currencyPattern.ReplaceAllString(line, ""), "")) == ""
}

func findLineItems(lines []string) []models.LineItem {
	var items []models.LineItem
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || amountContext.MatchString(trimmed) && totalPattern.MatchString(trimmed) {
			continue
		}

		m := itemMultiply.FindStringSubmatch(trimmed)
		if m == nil {
			m = itemColumns.FindStringSubmatch(trimmed)
		}
		if m == nil {
			continue
		}

		qty, ok1 := parseFloat(m[2])
		unit, ok2 := parseFloat(m[3])
		total, ok3 := parseFloat(m[4])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		items = append(items, models.LineItem{
			Description: strings.TrimSpace(m[1]),
			Quantity:    qty,
			UnitPrice:   unit,
			Total:       total,
		})
	}
	return items
}
