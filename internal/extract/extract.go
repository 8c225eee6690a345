// Package extract finds manufacturer mentions, error/fault codes, and
// part numbers in unstructured document text using regex patterns and a
// small manufacturer/product database, generalized from the teacher's
// vehiclenlp make/model/year extractor (same alias-table + adjacency
// heuristic, retargeted from vehicles to printers/copiers/imaging
// hardware).
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ManufacturerMatch is an extracted manufacturer/product mention.
type ManufacturerMatch struct {
	Manufacturer string
	Product      string
	Confidence   float64
	Span         string
}

// manufacturerAliases maps abbreviations/nicknames to canonical manufacturer names.
var manufacturerAliases = map[string]string{
	"hp":             "HP",
	"hewlett-packard": "HP",
	"hewlett packard": "HP",
	"canon":          "Canon",
	"xerox":          "Xerox",
	"ricoh":          "Ricoh",
	"epson":          "Epson",
	"brother":        "Brother",
	"lexmark":        "Lexmark",
	"konica minolta": "Konica Minolta",
	"konica":         "Konica Minolta",
	"minolta":        "Konica Minolta",
	"kyocera":        "Kyocera",
	"samsung":        "Samsung",
	"sharp":          "Sharp",
	"dell":           "Dell",
	"oki":            "OKI",
}

// manufacturerProducts maps canonical manufacturer to known product line prefixes.
var manufacturerProducts = map[string][]string{
	"HP":             {"LaserJet", "OfficeJet", "DeskJet", "Envy", "PageWide", "Color LaserJet", "Neverstop"},
	"Canon":          {"imageRUNNER", "PIXMA", "imageCLASS", "MAXIFY", "imagePROGRAF"},
	"Xerox":          {"WorkCentre", "VersaLink", "AltaLink", "Phaser", "ColorQube"},
	"Ricoh":          {"Aficio", "MP", "IM", "SP"},
	"Epson":          {"WorkForce", "EcoTank", "Expression", "SureColor"},
	"Brother":        {"HL", "MFC", "DCP"},
	"Lexmark":        {"MS", "MX", "CX", "CS"},
	"Konica Minolta": {"bizhub", "AccurioPress"},
	"Kyocera":        {"ECOSYS", "TASKalfa"},
}

var (
	mfrCount     map[string]int
	productByMfr map[string]map[string]string // mfr_lower -> product_lower -> canonical product
	mfrRe        *regexp.Regexp
)

func init() {
	productByMfr = make(map[string]map[string]string)
	for mfr, products := range manufacturerProducts {
		lower := strings.ToLower(mfr)
		productByMfr[lower] = make(map[string]string)
		for _, p := range products {
			productByMfr[lower][strings.ToLower(p)] = p
		}
	}

	var names []string
	seen := make(map[string]bool)
	for alias := range manufacturerAliases {
		if !seen[alias] {
			names = append(names, regexp.QuoteMeta(alias))
			seen[alias] = true
		}
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if len(names[j]) > len(names[i]) {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	mfrRe = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)(?:'s)?\b`)
}

// ExtractManufacturers finds all manufacturer/product mentions in text.
func ExtractManufacturers(text string) []ManufacturerMatch {
	if text == "" {
		return nil
	}
	var matches []ManufacturerMatch
	used := make(map[string]bool)

	for _, loc := range mfrRe.FindAllStringSubmatchIndex(text, -1) {
		mfrStr := text[loc[2]:loc[3]]
		canonical := manufacturerAliases[strings.ToLower(mfrStr)]
		if canonical == "" {
			continue
		}

		afterStart := loc[1]
		afterEnd := min(afterStart+40, len(text))
		product, productSpan := findProduct(canonical, text[afterStart:afterEnd])

		conf := 0.6
		if product != "" {
			conf = 0.9
		}

		spanEnd := loc[1]
		if product != "" {
			spanEnd = afterStart + productSpan
		}
		span := strings.TrimSpace(text[loc[0]:min(spanEnd, len(text))])

		key := fmt.Sprintf("%s|%s", canonical, product)
		if used[key] {
			continue
		}
		used[key] = true

		matches = append(matches, ManufacturerMatch{
			Manufacturer: canonical,
			Product:      product,
			Confidence:   conf,
			Span:         span,
		})
	}
	return matches
}

// ExtractBestManufacturer returns the single highest-confidence match, or
// nil when text mentions no known manufacturer.
func ExtractBestManufacturer(text string) *ManufacturerMatch {
	matches := ExtractManufacturers(text)
	best := -1
	for i, m := range matches {
		if best == -1 || m.Confidence > matches[best].Confidence {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return &matches[best]
}

func findProduct(mfr, after string) (product string, spanEnd int) {
	products, ok := productByMfr[strings.ToLower(mfr)]
	if !ok {
		return "", 0
	}

	trimmed := strings.TrimLeftFunc(after, unicode.IsSpace)
	offset := len(after) - len(trimmed)
	lowerTrimmed := strings.ToLower(trimmed)

	type entry struct{ lower, canonical string }
	var sorted []entry
	for pl, pc := range products {
		sorted = append(sorted, entry{pl, pc})
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if len(sorted[j].lower) > len(sorted[i].lower) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	for _, e := range sorted {
		if strings.HasPrefix(lowerTrimmed, e.lower) {
			return e.canonical, offset + len(e.lower)
		}
	}
	return "", 0
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
