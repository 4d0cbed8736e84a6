package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/register"
)

// CheckoutOptions holds flags for the checkout command.
type CheckoutOptions struct {
	*RootOptions
	Received     string
	Currency     string
	CustomerID   string
	CustomerName string
	CreditLimit  string
	Balance      string
}

// NewCheckoutCommand creates the checkout command.
func NewCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Settle the active cart",
		Long: `Settle the active cart.

The received amount is in the payment currency (--currency, default the
session currency). When the back office answers the sale is committed
under the number it issues; otherwise it is queued under an
OFFLINE-<millis> number and delivered later by "cashier sync".

A payment below the total needs a customer to carry the balance.

Exit codes:
  0 - Sale committed or queued
  1 - Checkout refused (empty cart, bad amount, credit limit, etc.)
  2 - Command error

Examples:
  cashier checkout --received 15
  cashier checkout --received 2 --currency USD
  cashier checkout --received 5 --customer c-17 --credit-limit 100 --balance 40`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Received, "received", "", "amount received from the customer (required)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "payment currency (default: session currency)")
	cmd.Flags().StringVar(&opts.CustomerID, "customer", "", "customer ID the sale is charged to")
	cmd.Flags().StringVar(&opts.CustomerName, "customer-name", "", "customer display name")
	cmd.Flags().StringVar(&opts.CreditLimit, "credit-limit", "", "customer credit limit (default: none)")
	cmd.Flags().StringVar(&opts.Balance, "balance", "0", "customer outstanding balance")
	_ = cmd.MarkFlagRequired("received")

	return cmd
}

func runCheckout(opts *CheckoutOptions, cmd *cobra.Command) error {
	return opts.withRegister(cmd, "checkout", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
		req, err := opts.request()
		if err != nil {
			return nil, nil, err
		}
		res, err := reg.Checkout(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		return res, func(w io.Writer) { writeCheckout(w, res) }, nil
	})
}

func (o *CheckoutOptions) request() (register.CheckoutRequest, error) {
	received, err := decimal.NewFromString(o.Received)
	if err != nil {
		return register.CheckoutRequest{}, failure.Validation(failure.CodeInvalidAmount, "received amount %q is not a number", o.Received)
	}
	req := register.CheckoutRequest{Currency: o.Currency, Received: received}

	if o.CustomerID == "" {
		return req, nil
	}
	c := &checkout.Customer{ID: o.CustomerID, Name: o.CustomerName}
	if c.OutstandingBalance, err = decimal.NewFromString(o.Balance); err != nil {
		return req, failure.Validation(failure.CodeInvalidAmount, "balance %q is not a number", o.Balance)
	}
	if o.CreditLimit != "" {
		limit, err := decimal.NewFromString(o.CreditLimit)
		if err != nil {
			return req, failure.Validation(failure.CodeInvalidAmount, "credit limit %q is not a number", o.CreditLimit)
		}
		c.CreditLimit = &limit
	}
	req.Customer = c
	return req, nil
}

func writeCheckout(w io.Writer, res checkout.Result) {
	p := res.Payload
	switch res.Outcome {
	case checkout.OutcomeCommitted:
		fmt.Fprintf(w, "Sale %s committed.\n", res.SaleNumber)
	case checkout.OutcomeQueued:
		fmt.Fprintf(w, "Sale %s queued; the back office is unreachable.\n", res.SaleNumber)
	}
	fmt.Fprintf(w, "Total    %s %s\n", p.TotalAfter, p.BaseCurrency)
	if p.Currency != p.BaseCurrency {
		fmt.Fprintf(w, "Due      %s %s (rate %s)\n", res.Amounts.Required, p.Currency, p.ExchangeRate)
	}
	fmt.Fprintf(w, "Received %s %s\n", p.ReceivedAmount, p.Currency)
	fmt.Fprintf(w, "Change   %s %s\n", p.Change, p.Currency)
}
