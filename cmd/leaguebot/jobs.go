package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"leaguebot/internal/app"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect stored job definitions",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job definitions and their last failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			jobs, err := a.Store().Jobs(ctx)
			if err != nil {
				return err
			}
			failures, err := a.Store().JobFailures(ctx)
			if err != nil {
				return err
			}
			failed := make(map[string]int, len(failures))
			for _, f := range failures {
				failed[f.JobID] = f.Count
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLEAGUE\tKIND\tCRON\tTZ\tENABLED\tFAILURES")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%d\n", j.ID, j.LeagueID, j.Kind, j.Cron, j.Timezone, j.Enabled, failed[j.ID])
			}
			return w.Flush()
		})
	},
}

var jobsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Validate enabled jobs and report how many would be scheduled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Scheduler().RefreshJobs(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %d job(s)\n", n)
			return err
		})
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRefreshCmd)
}
