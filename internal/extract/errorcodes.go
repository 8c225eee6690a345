package extract

import "regexp"

// CodeMatch is a fault/error code or part number found in document text.
type CodeMatch struct {
	Code         string
	Manufacturer string
	Span         string
}

// errorCodePatterns maps a manufacturer to the regexes its service
// literature uses for fault/error codes. Patterns are manufacturer
// specific because the same numeric shape (e.g. "13.20") means different
// things, and an undifferentiated regex produces false positives across
// product lines.
var errorCodePatterns = map[string][]*regexp.Regexp{
	"HP": {
		regexp.MustCompile(`\b(?:Error\s+)?(\d{2}\.\d{2}(?:\.\d{2})?)\b`),
		regexp.MustCompile(`\b(E[0-9]{3})\b`),
	},
	"Canon": {
		regexp.MustCompile(`\b(E\d{3}(?:-\d{4})?)\b`),
		regexp.MustCompile(`\b(Error\s+Code:?\s*\d{3,4})\b`),
	},
	"Xerox": {
		regexp.MustCompile(`\b(0\d{2}-\d{3})\b`),
		regexp.MustCompile(`\b(Fault\s+Code\s+\d{3})\b`),
	},
	"Ricoh": {
		regexp.MustCompile(`\b(SC\d{3,4})\b`),
	},
	"Epson": {
		regexp.MustCompile(`\b(0x[0-9A-Fa-f]{2,4})\b`),
	},
	"Konica Minolta": {
		regexp.MustCompile(`\b(C\d{4})\b`),
	},
	"Kyocera": {
		regexp.MustCompile(`\b(C\d{4})\b`),
	},
}

// partNumberPatterns is manufacturer-agnostic since catalogs converge on
// a handful of conventions (dash-delimited alphanumeric SKUs).
var partNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{1,3}\d{3,6}-\d{2,5})\b`),
	regexp.MustCompile(`\b(RM\d-\d{4,6})\b`),
	regexp.MustCompile(`\b(CE\d{3}-\d{5})\b`),
}

// ExtractErrorCodes finds fault/error codes for a known manufacturer. An
// unrecognized manufacturer yields no matches rather than falling back to
// a generic pattern, since cross-manufacturer code shapes collide.
func ExtractErrorCodes(text, manufacturer string) []CodeMatch {
	patterns, ok := errorCodePatterns[manufacturer]
	if !ok {
		return nil
	}
	return extractWithPatterns(text, manufacturer, patterns)
}

// ExtractPartNumbers finds part/SKU numbers, manufacturer-agnostic.
func ExtractPartNumbers(text, manufacturer string) []CodeMatch {
	return extractWithPatterns(text, manufacturer, partNumberPatterns)
}

func extractWithPatterns(text, manufacturer string, patterns []*regexp.Regexp) []CodeMatch {
	if text == "" {
		return nil
	}
	seen := make(map[string]bool)
	var matches []CodeMatch
	for _, re := range patterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			code := text[loc[2]:loc[3]]
			if seen[code] {
				continue
			}
			seen[code] = true
			spanStart := max(0, loc[0]-10)
			spanEnd := min(loc[1]+10, len(text))
			matches = append(matches, CodeMatch{
				Code:         code,
				Manufacturer: manufacturer,
				Span:         text[spanStart:spanEnd],
			})
		}
	}
	return matches
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
