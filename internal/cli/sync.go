package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/outbox"
	"github.com/roach88/cashier/internal/register"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued sales to the back office",
		Long: `Deliver queued offline sales to the back office, oldest first.

Without --watch one pass is made. A sale the back office rejects stays
queued with its error and the pass moves on; a network failure ends the
pass.

With --watch the queue is drained at the configured interval until
interrupted, backing off after failed passes.

Exit codes:
  0 - Pass completed (or watch stopped by a signal)
  2 - The back office could not be reached, or the store failed

Examples:
  cashier sync
  cashier sync --watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Watch {
				return runSyncWatch(opts, cmd)
			}
			return runSyncOnce(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep draining until interrupted")
	return cmd
}

func runSyncOnce(opts *SyncOptions, cmd *cobra.Command) error {
	return opts.withRegister(cmd, "sync", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
		rep, err := reg.Drain(ctx)
		if err != nil {
			return nil, nil, err
		}
		return rep, func(w io.Writer) { writeReport(w, rep) }, nil
	})
}

func writeReport(w io.Writer, rep outbox.Report) {
	if rep.Skipped {
		fmt.Fprintln(w, "Another process is syncing; nothing done.")
		return
	}
	fmt.Fprintf(w, "Delivered %d, failed %d, %d still queued.\n", rep.Delivered, rep.Failed, rep.Remaining)
	if rep.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", rep.LastError)
	}
}

func runSyncWatch(opts *SyncOptions, cmd *cobra.Command) error {
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
		}
	}()
	cmd.SetContext(ctx)

	return opts.withRegister(cmd, "sync", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Syncing company %s. Press Ctrl-C to stop.\n", reg.Operator().CompanyID)
		err := reg.RunSync(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		pending, err := reg.Pending(context.WithoutCancel(ctx))
		if err != nil {
			return nil, nil, err
		}
		data := map[string]int{"remaining": len(pending)}
		return data, func(w io.Writer) {
			fmt.Fprintf(w, "Stopped; %d sale(s) still queued.\n", len(pending))
		}, nil
	})
}

// QueuedSale is one outbox entry as listed by "queue list".
type QueuedSale struct {
	Seq        int64  `json:"seq"`
	SaleNumber string `json:"saleNumber"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"lastError,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline sales queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List queued sales of the current company",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRegister(cmd, "queue list", func(ctx context.Context, reg *register.Register) (any, func(io.Writer), error) {
				ops, err := reg.Pending(ctx)
				if err != nil {
					return nil, nil, err
				}
				sales := make([]QueuedSale, 0, len(ops))
				for _, op := range ops {
					sales = append(sales, QueuedSale{
						Seq:        op.Seq,
						SaleNumber: op.SaleNumber,
						Attempts:   op.Attempts,
						LastError:  op.LastError,
						EnqueuedAt: op.EnqueuedAt.UTC().Format(time.RFC3339),
					})
				}
				return sales, func(w io.Writer) {
					if len(sales) == 0 {
						fmt.Fprintln(w, "Queue is empty.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SEQ\tSALE\tQUEUED\tATTEMPTS\tLAST ERROR")
					for _, s := range sales {
						fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", s.Seq, s.SaleNumber, s.EnqueuedAt, s.Attempts, s.LastError)
					}
					tw.Flush()
				}, nil
			})
		},
	})
	return cmd
}
