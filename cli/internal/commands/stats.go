package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/cli/internal/output"
	"github.com/zhaobenny/gasometer/cli/internal/sync"
	"github.com/zhaobenny/gasometer/internal/aggregate"
)

type statsReport struct {
	Summary sync.Summary          `json:"summary"`
	Roles   []aggregate.RoleCost  `json:"roles"`
	Rigs    []aggregate.RigCost   `json:"rigs"`
	Daily   []aggregate.DailyCost `json:"daily,omitempty"`
}

func newStatsCmd() *cobra.Command {
	var (
		jsonOut bool
		daily   bool
		compact bool
		from    string
		to      string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cost totals from the server",
		Example: `  gasometer stats
  gasometer stats --from 2026-02-01 --daily
  gasometer stats --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromTime, err := parseDate("from", from)
			if err != nil {
				return err
			}
			toTime, err := parseDate("to", to)
			if err != nil {
				return err
			}

			client, _, err := serverClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var report statsReport
			if report.Summary, err = client.Summary(ctx); err != nil {
				return fmt.Errorf("failed to fetch summary: %w", err)
			}
			if report.Roles, err = client.Roles(ctx, fromTime, toTime); err != nil {
				return fmt.Errorf("failed to fetch roles: %w", err)
			}
			if report.Rigs, err = client.Rigs(ctx, fromTime, toTime); err != nil {
				return fmt.Errorf("failed to fetch rigs: %w", err)
			}
			if daily {
				if report.Daily, err = client.Daily(ctx, fromTime, toTime); err != nil {
					return fmt.Errorf("failed to fetch daily costs: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return output.PrintJSON(out, report)
			}

			output.PrintSummary(out, report.Summary.Today, report.Summary.Week, report.Summary.Month)
			output.PrintRoles(out, report.Roles)
			output.PrintRigs(out, report.Rigs)
			if daily {
				output.PrintDaily(out, report.Daily, output.TableOptions{ForceCompact: compact})
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&daily, "daily", false, "Include per-day per-role totals")
	cmd.Flags().BoolVarP(&compact, "compact", "c", false, "Force compact table output")
	cmd.Flags().StringVar(&from, "from", "", "Start of range for breakdowns (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "End of range for breakdowns (YYYY-MM-DD or RFC 3339)")
	return cmd
}
