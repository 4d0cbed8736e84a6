package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/cashier/internal/register"
)

// ErrCodeConfig is reported when the configuration cannot be loaded.
const ErrCodeConfig = "CONFIG"

// registerFunc does one command's work against an open register. It returns
// the JSON payload and its text rendering.
type registerFunc func(ctx context.Context, reg *register.Register) (data any, text func(io.Writer), err error)

// withRegister opens the register, runs fn, closes the register (saving the
// carts) and then reports fn's result together with any warnings raised on
// the way.
func (o *RootOptions) withRegister(cmd *cobra.Command, action string, fn registerFunc) error {
	out := o.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := o.loadConfig()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}
	out.VerboseLog("Opening register at %s", cfg.DB)

	reg, err := register.Open(ctx, register.Options{
		Config:     cfg,
		BackOffice: o.BackOffice,
		Now:        o.Now,
		CartIDs:    o.CartIDs,
	})
	if err != nil {
		return out.Failure("open register", err)
	}

	data, text, runErr := fn(ctx, reg)

	if err := reg.Close(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("close register", "error", err)
	}
	out.Warn(reg.Warnings()...)

	if runErr != nil {
		return out.Failure(action, runErr)
	}
	return out.Emit(data, text)
}
