// Command cashier is a point-of-sale register that keeps selling while the
// back office is unreachable.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/cashier/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
