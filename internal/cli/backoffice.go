package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/backoffice"
)

// BackOfficeOptions holds flags for the backoffice command.
type BackOfficeOptions struct {
	*RootOptions
	Listen string
	Rates  []string

	// Started is called with the bound address once the server accepts
	// connections (for testing).
	Started func(addr net.Addr)
}

// NewBackOfficeCommand creates the backoffice command.
func NewBackOfficeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackOfficeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backoffice",
		Short: "Run an in-memory back office",
		Long: `Run an in-memory back office that records sales and quotes exchange rates.

It issues S-000001 style sale numbers, answers a repeated sale number
as a duplicate, and serves the rates given with --rate. Useful for
local development and demos; nothing is persisted.

Example:
  cashier backoffice --listen :8080 --rate YER/USD=500 --rate YER/EUR=540`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackOffice(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default: backoffice.listen from config)")
	cmd.Flags().StringArrayVar(&opts.Rates, "rate", nil, "exchange rate FROM/TO=RATE (repeatable)")
	return cmd
}

// parseRate parses FROM/TO=RATE.
func parseRate(s string) (from, to string, rate decimal.Decimal, err error) {
	pair, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", decimal.Zero, fmt.Errorf("rate %q: want FROM/TO=RATE", s)
	}
	from, to, ok = strings.Cut(pair, "/")
	if !ok || from == "" || to == "" {
		return "", "", decimal.Zero, fmt.Errorf("rate %q: want FROM/TO=RATE", s)
	}
	rate, err = decimal.NewFromString(value)
	if err != nil || !rate.IsPositive() {
		return "", "", decimal.Zero, fmt.Errorf("rate %q: %s is not a positive number", s, value)
	}
	return strings.ToUpper(from), strings.ToUpper(to), rate, nil
}

func runBackOffice(opts *BackOfficeOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	listen := opts.Listen
	if listen == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			_ = out.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "load config", err)
		}
		listen = cfg.BackOffice.Listen
	}

	office := backoffice.NewServer()
	for _, r := range opts.Rates {
		from, to, rate, err := parseRate(r)
		if err != nil {
			_ = out.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "parse rate", err)
		}
		office.SetRate(from, to, rate)
		slog.Info("rate configured", "from", from, "to", to, "rate", rate)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           office.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	slog.Info("back office listening", "addr", ln.Addr().String())
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Back office listening on %s\n", ln.Addr())
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	}
	if opts.Started != nil {
		opts.Started(ln.Addr())
	}

	select {
	case err := <-serveErr:
		return WrapExitError(ExitCommandError, "back office stopped", err)
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitCommandError, "shutdown", err)
	}

	slog.Info("back office stopped gracefully")
	return nil
}
