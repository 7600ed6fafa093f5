package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/planner"
)

type planOptions struct {
	input        string
	actionID     string
	contextID    string
	orchestrator string
}

func newPlanCmd() *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the submission rounds of a set of transactions",
		Long:  `Reads a JSON array of transactions from --input (or stdin) and prints the rounds that are still to be submitted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if opts.input != "" && opts.input != "-" {
				f, err := os.Open(opts.input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return printPlan(in, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "transactions JSON file, stdin when empty")
	cmd.Flags().StringVar(&opts.actionID, "action", "", "action id carried in trigger requests")
	cmd.Flags().StringVar(&opts.contextID, "context", "", "context (link) id carried in trigger requests")
	cmd.Flags().StringVar(&opts.orchestrator, "orchestrator", "", "orchestrator address targeted by trigger requests")
	_ = cmd.MarkFlagRequired("orchestrator")
	return cmd
}

func printPlan(r io.Reader, w io.Writer, opts *planOptions) error {
	if !common.IsHexAddress(opts.orchestrator) {
		return fmt.Errorf("invalid orchestrator address: %q", opts.orchestrator)
	}

	var txs []*models.Transaction
	if err := json.NewDecoder(r).Decode(&txs); err != nil {
		return fmt.Errorf("failed to decode transactions: %w", err)
	}

	rounds, err := planner.New(opts.orchestrator).Plan(opts.actionID, opts.contextID, txs)
	if err != nil {
		return err
	}
	if rounds == nil {
		rounds = [][]planner.Request{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rounds)
}
