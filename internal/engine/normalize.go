package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParsePresentation normalizes a presentation key into its numeric value.
// Accepted forms: decimal dot ("0.5"), decimal comma ("0,5") and slug forms
// using hyphen or underscore as the decimal separator ("0-5000" -> 0.5,
// "1_5" -> 1.5). A plain integer string is returned as-is.
func ParsePresentation(s string) (float64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty presentation key")
	}

	norm := strings.NewReplacer("-", ".", "_", ".", ",", ".").Replace(raw)
	if strings.Count(norm, ".") > 1 {
		// Keep the first separator as the decimal point, drop the rest.
		first := strings.Index(norm, ".")
		norm = norm[:first+1] + strings.ReplaceAll(norm[first+1:], ".", "")
	}

	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable presentation %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("non-positive presentation %q", raw)
	}
	return v, nil
}

// ParsePrice normalizes a displayed price string into a float. Currency
// symbols and spaces are ignored. When both '.' and ',' occur (or one occurs
// more than once), the last occurring separator is taken as the decimal
// point and every other separator as grouping: "1.234,56" -> 1234.56,
// "1,234.56" -> 1234.56, "$ 12.345" -> 12.345.
func ParsePrice(s string) (float64, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	raw := b.String()
	if raw == "" {
		return 0, fmt.Errorf("no digits in price %q", s)
	}

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")
	decimal := lastDot
	if lastComma > lastDot {
		decimal = lastComma
	}

	var norm string
	if decimal < 0 {
		norm = raw
	} else {
		intPart := strings.Map(digitsAndSign, raw[:decimal])
		fracPart := strings.Map(digitsAndSign, raw[decimal+1:])
		norm = intPart + "." + fracPart
	}

	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite price %q", s)
	}
	return v, nil
}

func digitsAndSign(r rune) rune {
	if (r >= '0' && r <= '9') || r == '-' {
		return r
	}
	return -1
}
