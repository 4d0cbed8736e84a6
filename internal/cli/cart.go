package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/register"
)

// CartView is one cart as shown to the operator.
type CartView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Active   bool          `json:"active"`
	Items    []LineView    `json:"items"`
	Discount cart.Discount `json:"discount"`
	Totals   cart.Totals   `json:"totals"`
}

// LineView is one cart line with the stock still available for it.
type LineView struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitID      string          `json:"unitId"`
	Qty         int64           `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Available   int64           `json:"available"`
}

// NewCartCommand creates the cart command group.
func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Build and manage carts",
		Long: `Build and manage the register's carts.

Every cart reserves stock from the same product snapshot, so a unit held
in one cart is not available to another. Carts survive restarts.

Examples:
  cashier cart add rice unit --qty 2
  cashier cart qty rice unit 1 --op inc
  cashier cart discount percentage 10
  cashier cart new "Table 4"`,
	}

	cmd.AddCommand(newCartShowCommand(rootOpts))
	cmd.AddCommand(newCartListCommand(rootOpts))

	cmd.AddCommand(cartActionCommand(rootOpts, "new [name]", "Open a new cart", cobra.MaximumNArgs(1),
		func(args []string) (cart.Action, error) {
			a := cart.CreateCart{}
			if len(args) == 1 {
				a.Name = args[0]
			}
			return a, nil
		}))
	cmd.AddCommand(cartActionCommand(rootOpts, "use <cart-id>", "Switch the active cart", cobra.ExactArgs(1),
		func(args []string) (cart.Action, error) {
			return cart.SetActive{ID: args[0]}, nil
		}))
	cmd.AddCommand(cartActionCommand(rootOpts, "drop <cart-id>", "Delete a cart and release its stock", cobra.ExactArgs(1),
		func(args []string) (cart.Action, error) {
			return cart.RemoveCart{ID: args[0]}, nil
		}))
	cmd.AddCommand(cartActionCommand(rootOpts, "unit <product> <from-unit> <to-unit>", "Sell a line in another unit", cobra.ExactArgs(3),
		func(args []string) (cart.Action, error) {
			return cart.ChangeUnit{ProductID: args[0], From: args[1], To: args[2]}, nil
		}))
	cmd.AddCommand(cartActionCommand(rootOpts, "remove <product> <unit>", "Remove a line", cobra.ExactArgs(2),
		func(args []string) (cart.Action, error) {
			return cart.RemoveItem{ProductID: args[0], UnitID: args[1]}, nil
		}))
	cmd.AddCommand(cartActionCommand(rootOpts, "clear", "Empty the active cart", cobra.NoArgs,
		func([]string) (cart.Action, error) {
			return cart.ClearCart{}, nil
		}))
	cmd.AddCommand(cartActionCommand(rootOpts, "discount <fixed|percentage> <value>", "Set the cart discount", cobra.ExactArgs(2),
		func(args []string) (cart.Action, error) {
			t := cart.DiscountType(args[0])
			if t != cart.DiscountFixed && t != cart.DiscountPercentage {
				return nil, failure.Validation(failure.CodeInvalidDiscount, "discount type must be fixed or percentage, got %q", args[0])
			}
			v, err := decimal.NewFromString(args[1])
			if err != nil {
				return nil, failure.Validation(failure.CodeInvalidDiscount, "discount %q is not a number", args[1])
			}
			return cart.SetDiscount{Type: t, Value: v}, nil
		}))

	add := cartActionCommand(rootOpts, "add <product> <unit>", "Add a product line", cobra.ExactArgs(2), nil)
	qty := add.Flags().Int64("qty", 1, "quantity (clamped to available stock)")
	add.RunE = runCartAction(rootOpts, func(args []string) (cart.Action, error) {
		return cart.AddItem{ProductID: args[0], UnitID: args[1], Qty: *qty}, nil
	})
	cmd.AddCommand(add)

	setQty := cartActionCommand(rootOpts, "qty <product> <unit> <n>", "Change a line's quantity", cobra.ExactArgs(3), nil)
	op := setQty.Flags().String("op", string(cart.QtySet), "set, inc or dec")
	setQty.RunE = runCartAction(rootOpts, func(args []string) (cart.Action, error) {
		n, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, failure.Validation(failure.CodeInvalidQuantity, "quantity %q is not a whole number", args[2])
		}
		return cart.UpdateQuantity{ProductID: args[0], UnitID: args[1], Value: n, Op: cart.QtyOp(*op)}, nil
	})
	cmd.AddCommand(setQty)

	return cmd
}

// cartActionCommand builds a subcommand that applies one cart action and
// shows the active cart.
func cartActionCommand(rootOpts *RootOptions, use, short string, args cobra.PositionalArgs, build func([]string) (cart.Action, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if build != nil {
		cmd.RunE = runCartAction(rootOpts, build)
	}
	return cmd
}

func runCartAction(rootOpts *RootOptions, build func([]string) (cart.Action, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return rootOpts.withRegister(cmd, "cart", func(_ context.Context, reg *register.Register) (any, func(io.Writer), error) {
			action, err := build(args)
			if err != nil {
				return nil, nil, err
			}
			if err := reg.Dispatch(action); err != nil {
				return nil, nil, err
			}
			view := activeCartView(reg)
			return view, func(w io.Writer) { writeCart(w, view) }, nil
		})
	}
}

func newCartShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the active cart",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "cart show", func(_ context.Context, reg *register.Register) (any, func(io.Writer), error) {
				view := activeCartView(reg)
				return view, func(w io.Writer) { writeCart(w, view) }, nil
			})
		},
	}
}

func newCartListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List open carts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "cart list", func(_ context.Context, reg *register.Register) (any, func(io.Writer), error) {
				views := cartViews(reg)
				return views, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "\tID\tNAME\tLINES\tTOTAL")
					for _, v := range views {
						mark := ""
						if v.Active {
							mark = "*"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", mark, v.ID, v.Name, len(v.Items), v.Totals.After)
					}
					tw.Flush()
				}, nil
			})
		},
	}
}

func cartViews(reg *register.Register) []CartView {
	st := reg.Carts().State()
	tracker := reg.Carts().Tracker()
	views := make([]CartView, 0, len(st.Carts))
	for _, c := range st.Carts {
		v := CartView{
			ID:       c.ID,
			Name:     c.Name,
			Active:   c.ID == st.ActiveID,
			Items:    make([]LineView, 0, len(c.Items)),
			Discount: st.Discount,
			Totals:   cart.ComputeTotals(c.Items, st.Discount),
		}
		for _, it := range c.Items {
			v.Items = append(v.Items, LineView{
				ProductID:   it.ProductID,
				ProductName: it.ProductName,
				UnitID:      it.UnitID,
				Qty:         it.Qty,
				UnitPrice:   it.UnitPrice,
				Subtotal:    it.Subtotal(),
				Available:   tracker.Available(it.ProductID, it.UnitID),
			})
		}
		views = append(views, v)
	}
	return views
}

func activeCartView(reg *register.Register) CartView {
	for _, v := range cartViews(reg) {
		if v.Active {
			return v
		}
	}
	return CartView{Items: []LineView{}, Discount: cart.NoDiscount}
}

func writeCart(w io.Writer, v CartView) {
	if v.ID == "" {
		fmt.Fprintln(w, "No active cart.")
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", v.Name, v.ID)
	if len(v.Items) == 0 {
		fmt.Fprintln(w, "  empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range v.Items {
		fmt.Fprintf(tw, "  %s\t%s\t%s\tx%d\t@ %s\t%s\t(%d left)\n",
			it.ProductID, it.ProductName, it.UnitID, it.Qty, it.UnitPrice, it.Subtotal, it.Available)
	}
	tw.Flush()
	fmt.Fprintf(w, "Subtotal %s  Discount %s  Total %s\n", v.Totals.Before, v.Totals.Discount, v.Totals.After)
}
