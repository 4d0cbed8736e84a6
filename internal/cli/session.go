package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/register"
	"github.com/roach88/cashier/internal/session"
)

// SessionView is the operator session plus back office reachability.
type SessionView struct {
	session.OfflineSession
	Online bool `json:"online"`
}

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show or switch the operator session",
		Long: `Show or switch the operator session.

The session names the cashier, branch and company sales are rung up for.
It is remembered across restarts and is used whenever the configuration
names no company. Each company has its own carts.`,
	}
	cmd.AddCommand(newSessionShowCommand(rootOpts))
	cmd.AddCommand(newSessionSetCommand(rootOpts))
	return cmd
}

func newSessionShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the operator session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "session show", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
				view := SessionView{OfflineSession: reg.Operator(), Online: reg.Online(ctx)}
				return view, func(w io.Writer) { writeSession(w, view) }, nil
			})
		},
	}
}

func newSessionSetCommand(rootOpts *RootOptions) *cobra.Command {
	var s session.OfflineSession

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Switch the operator session",
		Example: `  cashier session set --company acme --branch main --cashier cashier-1
  cashier session set --company acme --cashier cashier-2 --currency USD`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "session set", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
				if err := reg.SetOperator(ctx, s); err != nil {
					return nil, nil, err
				}
				view := SessionView{OfflineSession: reg.Operator(), Online: reg.Online(ctx)}
				return view, func(w io.Writer) { writeSession(w, view) }, nil
			})
		},
	}

	cmd.Flags().StringVar(&s.CompanyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&s.BranchID, "branch", "", "branch ID")
	cmd.Flags().StringVar(&s.CashierID, "cashier", "", "cashier ID")
	cmd.Flags().StringVar(&s.Currency, "currency", "", "default payment currency (default: base currency)")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func writeSession(w io.Writer, v SessionView) {
	if v.CompanyID == "" {
		fmt.Fprintln(w, `No session. Run "cashier session set --company <id>".`)
		return
	}
	state := "offline"
	if v.Online {
		state = "online"
	}
	fmt.Fprintf(w, "Company  %s\nBranch   %s\nCashier  %s\n", v.CompanyID, v.BranchID, v.CashierID)
	fmt.Fprintf(w, "Currency %s (base %s)\nBack office %s\n", v.Currency, v.BaseCurrency, state)
}
