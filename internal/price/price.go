// Package price converts locale-formatted price strings to structured
// amounts and back. It is a leaf package with no dependencies.
package price

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/price-tracker/internal/domain"
)

// symbolEntry maps a currency symbol to its ISO-4217 code. Order matters:
// longest symbols first, so "CA$" wins over "$".
type symbolEntry struct {
	symbol string
	code   string
}

var currencySymbols = []symbolEntry{
	{"CA$", "CAD"},
	{"A$", "AUD"},
	{"R$", "BRL"},
	{"€", "EUR"},
	{"$", "USD"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
}

var currencyCodes = []string{"EUR", "USD", "GBP", "JPY", "INR", "BRL", "AUD", "CAD"}

var codeTokenRe = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(currencyCodes))
	for _, code := range currencyCodes {
		m[code] = regexp.MustCompile(`(^|[^A-Z])` + code + `([^A-Z]|$)`)
	}
	return m
}()

var nonNumericRe = regexp.MustCompile(`[^\d.,]`)

// DetectCurrency returns the ISO code for a symbol or code token found in
// the text, or "" when none matches.
func DetectCurrency(text string) string {
	for _, entry := range currencySymbols {
		if strings.Contains(text, entry.symbol) {
			return entry.code
		}
	}
	upper := strings.ToUpper(text)
	for _, code := range currencyCodes {
		if codeTokenRe[code].MatchString(upper) {
			return code
		}
	}
	return ""
}

// Parse converts a raw price string like "EUR 249,00" or "$1,299.99" into a
// structured price. The decimal separator is chosen by whichever of "," and
// "." occurs last: "1.299,00" is EU style, "1,299.00" is US style. Returns
// nil when no usable number remains.
func Parse(raw, fallbackCurrency string) *domain.Price {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	currency := DetectCurrency(trimmed)
	if currency == "" && fallbackCurrency != "" {
		currency = strings.ToUpper(fallbackCurrency)
	}

	numStr := nonNumericRe.ReplaceAllString(trimmed, "")
	if numStr == "" {
		return nil
	}

	lastComma := strings.LastIndex(numStr, ",")
	lastDot := strings.LastIndex(numStr, ".")

	var cleaned string
	if lastComma > lastDot {
		// EU format: dots are thousands separators, comma is decimal.
		cleaned = strings.ReplaceAll(numStr, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		// US format: commas are thousands separators.
		cleaned = strings.ReplaceAll(numStr, ",", "")
	}

	numeric, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		return nil
	}

	return &domain.Price{
		Display:  trimmed,
		Numeric:  numeric,
		Currency: currency,
	}
}

// First symbol seen per code wins.
var symbolByCode = func() map[string]string {
	out := make(map[string]string, len(currencySymbols))
	for _, entry := range currencySymbols {
		if _, ok := out[entry.code]; !ok {
			out[entry.code] = entry.symbol
		}
	}
	return out
}()

// Format renders a numeric amount for display. EUR uses comma decimals;
// unknown currencies fall back to "CODE 12.34".
func Format(numeric float64, currency string) string {
	code := strings.ToUpper(currency)
	symbol, ok := symbolByCode[code]
	fixed := strconv.FormatFloat(numeric, 'f', 2, 64)

	if !ok {
		if code == "" {
			return fixed
		}
		return fmt.Sprintf("%s %s", code, fixed)
	}
	if code == "EUR" {
		return symbol + strings.Replace(fixed, ".", ",", 1)
	}
	return symbol + fixed
}
