package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/cli/internal/output"
	"github.com/zhaobenny/gasometer/internal/parser"
)

func newPushCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "push [costs.jsonl]",
		Short: "Send one cost event to the server",
		Long: `Reads cost events from a file (or stdin) and posts the last one to the server.
Meant to run from an agent stop hook; with --quiet a failure never fails the hook.`,
		Example: `  tail -n1 ~/.gt/costs.jsonl | gasometer push
  gasometer push ~/.gt/costs.jsonl --quiet`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := push(cmd, args)
			if err != nil && quiet {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Never fail and print nothing")
	return cmd
}

func push(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ev, err := parser.LastCostEvent(in)
	if err != nil {
		return fmt.Errorf("no valid cost event: %w", err)
	}

	client, _, err := serverClient()
	if err != nil {
		return err
	}
	if err := client.Ingest(cmd.Context(), ev); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s (%s) %s\n", ev.SessionID, ev.Role, output.FormatCost(ev.CostUSD))
	}
	return nil
}
