package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/register"
)

// NewRateCommand creates the rate command.
func NewRateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate [currency]",
		Short: "Quote the active cart in a payment currency",
		Long: `Quote the active cart in a payment currency.

The rate is fetched from the back office. When it cannot be reached the
last rate seen for the currency is used and a warning is logged.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "rate", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
				code := reg.Operator().Currency
				if len(args) == 1 {
					code = args[0]
				}
				q, err := reg.Quote(ctx, code)
				if err != nil {
					return nil, nil, err
				}
				return q, func(w io.Writer) {
					fmt.Fprintf(w, "%s/%s rate %s\n", q.Base, q.Currency, q.Rate)
					fmt.Fprintf(w, "Total %s %s = %s %s\n", q.Total, q.Base, q.Suggested, q.Currency)
					if !q.FetchedAt.IsZero() {
						fmt.Fprintf(w, "Fetched %s\n", q.FetchedAt.Format("2006-01-02 15:04:05 MST"))
					}
				}, nil
			})
		},
	}
}
