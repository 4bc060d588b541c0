package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal parses a locale-formatted non-negative quantity.
//
// When a comma is present it is the decimal mark and every period is a
// thousands separator ("1.234,56" and "1234,56" are both 1234.56). Without a
// comma, several periods are thousands separators and a single period is the
// decimal mark. More than one comma, negative numbers and anything that is not
// a number yield (0, false), as does a period after the comma ("1,234.56").
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, false
	}

	switch commas := strings.Count(s, ","); {
	case commas > 1:
		return decimal.Zero, false
	case commas == 1:
		if strings.Contains(s[strings.Index(s, ","):], ".") {
			return decimal.Zero, false
		}
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}
