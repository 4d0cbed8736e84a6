package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/register"
	"github.com/roach88/cashier/internal/stock"
)

// NewProductsCommand creates the products command group.
func NewProductsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Load and list the product snapshot",
	}
	cmd.AddCommand(newProductsLoadCommand(rootOpts))
	cmd.AddCommand(newProductsListCommand(rootOpts))
	return cmd
}

func newProductsLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <catalog-file>",
		Short: "Replace the product snapshot",
		Long: `Replace the product snapshot with a YAML or JSON catalog.

Quantities held by open carts are taken out of the new stock counts.
A cart line that no longer fits is kept and reported as a warning.

Example catalog:
  products:
    - id: rice
      name: Rice 1kg
      units:
        - {id: unit, name: Unit, price: "10.50", stock: 20}
        - {id: sack, name: Sack, price: "95", stock: 3}`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := readCatalogFile(args[0])
			if err != nil {
				out := rootOpts.formatter(cmd)
				_ = out.Error(ErrCodeCatalog, err.Error(), nil)
				return WrapExitError(ExitCommandError, "read catalog", err)
			}
			return rootOpts.withRegister(cmd, "products load", func(_ context.Context, reg *register.Register) (any, func(io.Writer), error) {
				reg.LoadProducts(products)
				data := map[string]int{"products": len(products)}
				return data, func(w io.Writer) {
					fmt.Fprintf(w, "Loaded %d product(s).\n", len(products))
				}, nil
			})
		},
	}
}

// ErrCodeCatalog is reported when a catalog file cannot be read.
const ErrCodeCatalog = "CATALOG"

func readCatalogFile(path string) ([]stock.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return stock.ReadCatalog(f)
}

func newProductsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List products with available stock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "products list", func(_ context.Context, reg *register.Register) (any, func(io.Writer), error) {
				products := reg.Carts().Tracker().Products()
				return products, func(w io.Writer) {
					if len(products) == 0 {
						fmt.Fprintln(w, "No products loaded.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "PRODUCT\tNAME\tUNIT\tPRICE\tAVAILABLE")
					for _, p := range products {
						for _, u := range p.Units {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, u.ID, u.Price, u.Stock)
						}
					}
					tw.Flush()
				}, nil
			})
		},
	}
}
