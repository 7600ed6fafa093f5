package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkrunner",
		Short:         "Orchestrates link actions across asset ledgers",
		Long:          `linkrunner builds the transactions of link actions, plans them into rounds, executes its own legs and reconciles the rest against the ledger.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newPlanCmd())
	return root
}
