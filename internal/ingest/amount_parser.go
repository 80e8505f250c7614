package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountRegex = regexp.MustCompile(`(?i)(\d[\d,\.]*)\s*(k|thousand|m|million|mn)?\b`)
	yearRegex   = regexp.MustCompile(`^(19|20)\d{2}$`)
)

// parseBudget extracts a funding range from a free-text amount line such as
// "Up to $50,000" or "EUR 20k - 100k". A single amount is a maximum unless the
// text says it is a minimum. Nil bounds are unbounded.
func parseBudget(text, defaultCurrency string) (min, max *float64, currency string) {
	lower := strings.ToLower(text)
	currency = detectCurrency(lower, defaultCurrency)

	var amounts []float64
	for _, m := range amountRegex.FindAllStringSubmatch(text, -1) {
		if yearRegex.MatchString(m[1]) && m[2] == "" {
			continue
		}
		v, ok := parseNumber(m[1])
		if !ok || v <= 0 {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "k", "thousand":
			v *= 1_000
		case "m", "million", "mn":
			v *= 1_000_000
		}
		amounts = append(amounts, v)
	}

	switch len(amounts) {
	case 0:
		return nil, nil, ""
	case 1:
		v := amounts[0]
		if strings.Contains(lower, "minimum") || strings.Contains(lower, "at least") || strings.Contains(lower, "from ") {
			return &v, nil, currency
		}
		return nil, &v, currency
	}

	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < lo {
			lo = a
		}
		if a > hi {
			hi = a
		}
	}
	if lo == hi {
		return nil, &hi, currency
	}
	return &lo, &hi, currency
}

func detectCurrency(lower, fallback string) string {
	switch {
	case strings.Contains(lower, "£") || strings.Contains(lower, "gbp") || strings.Contains(lower, "pound"):
		return "GBP"
	case strings.Contains(lower, "€") || strings.Contains(lower, "eur"):
		return "EUR"
	case strings.Contains(lower, "$") || strings.Contains(lower, "usd") || strings.Contains(lower, "dollar"):
		return "USD"
	case strings.Contains(lower, "kes") || strings.Contains(lower, "shilling"):
		return "KES"
	case fallback != "":
		return strings.ToUpper(fallback)
	default:
		return "USD"
	}
}

// parseNumber accepts 1,000,000 / 1.000.000 / 1000.50 style numbers.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimRight(s, ".,")
	if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
		return v, true
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ".", ""), 64); err == nil {
		return v, true
	}
	return 0, false
}
