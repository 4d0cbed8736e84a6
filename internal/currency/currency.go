// Package currency converts cart totals between the tenant's base currency
// and the currency the customer pays in.
//
// Rates arrive from the remote in one of two orientations and are told apart
// by magnitude: a rate above 1 is read as base units per selected unit
// (divide to convert a base total), a rate at or below 1 as selected units per
// base unit (multiply). ToBase applies the same rule in reverse.
package currency

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/roach88/cashier/internal/failure"
)

// BaseScale is the number of decimal places kept for base-currency amounts.
const BaseScale = 4

// ValidateCode checks code is an ISO 4217 currency and returns it upper-cased.
func ValidateCode(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", failure.Validation(failure.CodeInvalidCurrency, "invalid currency code %q", code)
	}
	return unit.String(), nil
}

func checkRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return failure.Validation(failure.CodeInvalidRate, "exchange rate must be positive, got %s", rate)
	}
	return nil
}

// SuggestedAmount converts a base-currency total into the amount to ask for
// in the selected currency.
func SuggestedAmount(total, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := checkRate(rate); err != nil {
		return decimal.Zero, err
	}
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		return total.Div(rate), nil
	}
	return total.Mul(rate), nil
}

// ToBase converts an amount received in the selected currency back into the
// base currency, rounded to BaseScale places.
func ToBase(received, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := checkRate(rate); err != nil {
		return decimal.Zero, err
	}
	var base decimal.Decimal
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		base = received.Mul(rate)
	} else {
		base = received.Div(rate)
	}
	return base.Round(BaseScale), nil
}
