package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency describes an ISO-4217 currency and its minor-unit exponent.
type Currency struct {
	Code     string
	Exponent int32
}

var supportedCurrencies = map[string]Currency{
	"USD": {Code: "USD", Exponent: 2},
	"EUR": {Code: "EUR", Exponent: 2},
	"GBP": {Code: "GBP", Exponent: 2},
	"KES": {Code: "KES", Exponent: 2},
	"CAD": {Code: "CAD", Exponent: 2},
	"JPY": {Code: "JPY", Exponent: 0},
}

// LookupCurrency returns the currency for an upper-case code.
func LookupCurrency(code string) (Currency, bool) {
	c, ok := supportedCurrencies[code]
	return c, ok
}

// NormalizeCurrency upper-cases and trims a caller-supplied code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FormatMinor renders minor units as a fixed-point major-unit string, e.g. 123456 USD -> "1234.56".
// Display only; amounts are never parsed back from this form.
func FormatMinor(amount int64, currency string) string {
	c, ok := LookupCurrency(currency)
	if !ok {
		c = Currency{Code: currency, Exponent: 2}
	}
	return decimal.New(amount, -c.Exponent).StringFixed(c.Exponent)
}
