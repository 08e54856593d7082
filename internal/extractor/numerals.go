package extractor

import (
	"strings"

	"github.com/shopspring/decimal"
)

// noScale lists concepts whose tagged value is already a ratio or a
// headcount; their scale attribute is ignored.
var noScale = map[string]bool{
	"Soliditet":             true,
	"MedelantaletAnstallda": true,
	"MedelantalAnstallda":   true,
}

var groupingSpaces = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "", "\n", "")

// parseNumeral reads a tagged numeral. The registry's default is space
// grouping with a decimal comma (ixt:numspacecomma); a format naming dot
// decimals switches separators. Placeholder dashes report ok=false.
func parseNumeral(text, format string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(text)
	switch s {
	case "", "-", "–", "—":
		return decimal.Decimal{}, false
	}
	s = groupingSpaces.Replace(s)

	switch {
	case strings.Contains(format, "numdotdecimal"), strings.Contains(format, "num-dot-decimal"):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Contains(format, "numcommadecimal"), strings.Contains(format, "num-comma-decimal"):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// numericValue applies sign and scale to a parsed numeral.
func numericValue(f fact) (float64, bool) {
	d, ok := parseNumeral(f.text, f.format)
	if !ok {
		return 0, false
	}
	if f.scale != 0 && !noScale[f.concept] {
		d = d.Shift(int32(f.scale))
	}
	if f.sign == "-" {
		d = d.Neg()
	}
	return d.InexactFloat64(), true
}
