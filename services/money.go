package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// parseCurrency validates an ISO 4217 code.
func parseCurrency(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return unit, nil
}

// formatAmount renders a minor-unit amount with the currency's standard
// number of decimals, e.g. 1999 usd -> "19.99 USD", 500 jpy -> "500 JPY".
func formatAmount(minor int64, code string) string {
	unit, err := parseCurrency(code)
	if err != nil {
		return fmt.Sprintf("%d %s", minor, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(minor, -int32(scale)).StringFixed(int32(scale)) + " " + unit.String()
}

// percentOf returns percent% of amount in minor units, rounded half up.
func percentOf(amount int64, percent float64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
