package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Catalog string
}

// ValidateResult is the data payload of a successful validation.
type ValidateResult struct {
	Config   config.Config `json:"config"`
	Products int           `json:"products,omitempty"`
	Units    int           `json:"units,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration and catalog files",
		Long: `Load the configuration the way every command does and check it
against the schema, without opening the database.

With --catalog, also check a product snapshot.

Exit codes:
  0 - Configuration (and catalog) valid
  2 - Validation failed

Examples:
  cashier validate --config cashier.yaml
  cashier validate --catalog products.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "product catalog file (YAML or JSON)")
	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	res := ValidateResult{Config: cfg}

	if opts.Catalog != "" {
		products, err := readCatalogFile(opts.Catalog)
		if err != nil {
			_ = out.Error(ErrCodeCatalog, err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid catalog", err)
		}
		res.Products = len(products)
		for _, p := range products {
			res.Units += len(p.Units)
		}
	}

	return out.Emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Configuration valid (db %s, base currency %s)\n", cfg.DB, cfg.BaseCurrency)
		if cfg.BackOffice.URL == "" {
			fmt.Fprintln(w, "  No back office URL; every sale will be queued.")
		} else {
			fmt.Fprintf(w, "  Back office %s\n", cfg.BackOffice.URL)
		}
		if opts.Catalog != "" {
			fmt.Fprintf(w, "✓ Catalog valid: %d product(s), %d selling unit(s)\n", res.Products, res.Units)
		}
	})
}
