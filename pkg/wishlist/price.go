package wishlist

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// pricePlaces is the number of decimal places every price is normalized to
// before it is compared or stored.
const pricePlaces = 2

var digitRun = regexp.MustCompile(`\d[\d,]*`)

// NormalizePrice rounds v to cents, half away from zero.
func NormalizePrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(pricePlaces).InexactFloat64()
}

// ScaledPrice converts a raw integer price reported in 1/scale units.
// ScaledPrice(123456789, 100000) == 1234.57.
func ScaledPrice(raw, scale int64) float64 {
	if scale <= 0 {
		return 0
	}
	return decimal.NewFromInt(raw).Div(decimal.NewFromInt(scale)).Round(pricePlaces).InexactFloat64()
}

// ParsePrice extracts the first integer-like amount from text such as
// "$1,290" or "NT$ 12,345元". ok is false unless the amount is positive.
func ParsePrice(text string) (price float64, ok bool) {
	m := digitRun.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return float64(n), true
}

// FormatPrice renders a price for display: "$1,234.57", "$1,000".
func FormatPrice(v float64) string {
	s := decimal.NewFromFloat(v).Round(pricePlaces).StringFixed(pricePlaces)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	b.WriteString(sign)
	b.WriteByte('$')
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if frac != "00" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
