package extraction

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/document-recognizer/internal/models"
)

//go:embed vendors.yaml
var defaultVendors []byte

const (
	MatchExact     = "exact"
	MatchAlias     = "alias"
	MatchSubstring = "substring"
	MatchNotFound  = "not_found"

	// shortest normalized name allowed to match as a substring
	minSubstringLen = 4
)

var legalSuffixes = map[string]bool{
	"ltd": true, "llc": true, "inc": true, "sa": true, "sarl": true, "sas": true,
	"gmbh": true, "plc": true, "co": true, "corp": true, "limited": true,
}

type vendorFile struct {
	Vendors []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"vendors"`
}

type vendorEntry struct {
	canonical string
	key       string
	aliases   []string
}

// VendorTable is the read-only list of known suppliers.
type VendorTable struct {
	entries []vendorEntry
}

// DefaultVendorTable loads the embedded vendor list.
func DefaultVendorTable() (*VendorTable, error) {
	return ParseVendorTable(defaultVendors)
}

// LoadVendorTable reads a vendor file, or the embedded list when path is
// empty.
func LoadVendorTable(path string) (*VendorTable, error) {
	if path == "" {
		return DefaultVendorTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vendor file: %w", err)
	}
	return ParseVendorTable(data)
}

func ParseVendorTable(data []byte) (*VendorTable, error) {
	var file vendorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vendor file: %w", err)
	}

	table := &VendorTable{}
	for _, v := range file.Vendors {
		key := normalizeVendorKey(v.Name)
		if key == "" {
			continue
		}
		entry := vendorEntry{canonical: strings.TrimSpace(v.Name), key: key}
		for _, alias := range v.Aliases {
			if a := normalizeVendorKey(alias); a != "" {
				entry.aliases = append(entry.aliases, a)
			}
		}
		table.entries = append(table.entries, entry)
	}
	return table, nil
}

func (t *VendorTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Match looks name up by exact name, then alias, then substring.
func (t *VendorTable) Match(name string) models.VendorMatch {
	if t == nil {
		return models.VendorMatch{Method: MatchNotFound}
	}
	key := normalizeVendorKey(name)
	if key == "" {
		return models.VendorMatch{Method: MatchNotFound}
	}

	for _, e := range t.entries {
		if e.key == key {
			return models.VendorMatch{Found: true, Canonical: e.canonical, Method: MatchExact, Confidence: 1.0}
		}
	}
	for _, e := range t.entries {
		for _, alias := range e.aliases {
			if alias == key {
				return models.VendorMatch{Found: true, Canonical: e.canonical, Method: MatchAlias, Confidence: 0.9}
			}
		}
	}
	for _, e := range t.entries {
		for _, candidate := range append([]string{e.key}, e.aliases...) {
			if substringMatch(key, candidate) {
				return models.VendorMatch{Found: true, Canonical: e.canonical, Method: MatchSubstring, Confidence: 0.7}
			}
		}
	}
	return models.VendorMatch{Method: MatchNotFound}
}

func substringMatch(a, b string) bool {
	if len(a) < minSubstringLen || len(b) < minSubstringLen {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// normalizeVendorKey lowercases, drops punctuation and accents, and strips
// legal suffixes.
func normalizeVendorKey(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(foldAccent(r))
		default:
			sb.WriteRune(' ')
		}
	}

	words := strings.Fields(sb.String())
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func foldAccent(r rune) rune {
	switch r {
	case 'à', 'â', 'ä', 'á':
		return 'a'
	case 'é', 'è', 'ê', 'ë':
		return 'e'
	case 'î', 'ï', 'í':
		return 'i'
	case 'ô', 'ö', 'ó':
		return 'o'
	case 'ù', 'û', 'ü', 'ú':
		return 'u'
	case 'ç':
		return 'c'
	}
	return r
}
