package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/currency"
	"github.com/roach88/cashier/internal/failure"
)

// creditTolerance is how far the base amount may fall short of the total
// before the sale counts as partial payment.
var creditTolerance = decimal.RequireFromString("0.1")

// Check is the input to Validate.
type Check struct {
	Lines    int
	Totals   cart.Totals
	Rate     decimal.Decimal
	Received decimal.Decimal
	Customer *Customer
}

// Amounts are the money figures of a validated checkout.
type Amounts struct {
	// Required is the amount due in the selected currency.
	Required decimal.Decimal `json:"required"`
	Received decimal.Decimal `json:"received"`
	// Base is Received converted to the base currency.
	Base   decimal.Decimal `json:"base"`
	Change decimal.Decimal `json:"change"`
}

// Validate runs the checkout preconditions in order and stops at the first
// failure:
//
//  1. the cart has at least one line
//  2. a customer over their credit limit must pay something
//  3. the base amount must not exceed the total
//  4. a partial payment needs a customer to carry the balance
//
// Validate is pure.
func Validate(c Check) (Amounts, error) {
	if c.Lines == 0 {
		return Amounts{}, failure.Validation(failure.CodeEmptyCart, "cart is empty")
	}
	if c.Received.IsNegative() {
		return Amounts{}, failure.Validation(failure.CodeInvalidAmount, "received amount must not be negative, got %s", c.Received)
	}

	total := c.Totals.After
	if c.Customer != nil && c.Customer.CreditLimit != nil {
		debt := total.Add(c.Customer.OutstandingBalance)
		if debt.GreaterThan(*c.Customer.CreditLimit) && c.Received.IsZero() {
			return Amounts{}, failure.Validation(failure.CodeCreditLimitExceeded,
				"customer %s would owe %s, over the credit limit of %s", c.Customer.ID, debt, *c.Customer.CreditLimit)
		}
	}

	base, err := currency.ToBase(c.Received, c.Rate)
	if err != nil {
		return Amounts{}, err
	}
	if base.GreaterThan(total) {
		return Amounts{}, failure.Validation(failure.CodeAmountExceedsTotal,
			"amount %s is greater than the total %s", base, total)
	}
	if total.GreaterThan(base.Add(creditTolerance)) && c.Customer == nil {
		return Amounts{}, failure.Validation(failure.CodeCustomerRequired,
			"partial payment of %s against %s requires a customer", base, total)
	}

	required, err := currency.SuggestedAmount(total, c.Rate)
	if err != nil {
		return Amounts{}, err
	}
	change := decimal.Zero
	if c.Received.GreaterThanOrEqual(required) {
		change = c.Received.Sub(required)
	}

	return Amounts{Required: required, Received: c.Received, Base: base, Change: change}, nil
}
