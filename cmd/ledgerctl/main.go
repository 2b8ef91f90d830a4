// Command ledgerctl runs reconciliation jobs and inspects a ledger database
// from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/warp/installment-ledger/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
