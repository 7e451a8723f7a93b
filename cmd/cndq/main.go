// Command cndq drives the resource-trading simulation from the shell:
// seed actors, post and fill listings, run the production solver and the
// reflection protocol that mirrors trades into counterparty logs.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/model"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
//
// Exit codes:
//
//	0  success
//	1  error
//	2  trading is closed
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{}
	defer a.Close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "cndq: %v\n", err)
		if errors.Is(err, model.ErrTradingClosed) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "cndq",
		Short: "cndq - multi-actor resource trading simulation",
		Long: `cndq runs a trading simulation over four raw resources (C, N, D, Q).

Every actor owns an append-only event log. Trades are written by the
initiating actor and mirrored into the counterparty's log by the
reflection protocol. Each actor values its inventory with shadow prices
from a production linear program.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			return a.open()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default cndq.yaml or $CNDQ_CONFIG)")
	pf.StringVar(&a.actorFlag, "actor", "", "actor ID (default $CNDQ_ACTOR)")
	pf.BoolVar(&a.jsonOut, "json", false, "JSON output")
	pf.BoolVar(&a.closed, "closed", false, "run with the trading session closed")

	// Setup
	root.AddCommand(a.initCmd())
	root.AddCommand(a.registerCmd())
	root.AddCommand(a.resetCmd())
	root.AddCommand(a.grantCmd())

	// Inspection
	root.AddCommand(a.statusCmd())
	root.AddCommand(a.logCmd())
	root.AddCommand(a.notificationsCmd())
	root.AddCommand(a.marketCmd())

	// Trading
	root.AddCommand(a.offerCmd())
	root.AddCommand(a.buyCmd())
	root.AddCommand(a.adCmd())
	root.AddCommand(a.cancelCmd())
	root.AddCommand(a.tradeCmd())

	// Production
	root.AddCommand(a.produceCmd())
	root.AddCommand(a.shadowCmd())
	root.AddCommand(a.solveCmd())

	// Reflection
	root.AddCommand(a.reflectCmd())
	root.AddCommand(a.frontierCmd())
	root.AddCommand(a.pollCmd())

	return root
}
