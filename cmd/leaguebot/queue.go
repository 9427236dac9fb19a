package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"leaguebot/internal/app"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drive the content queue",
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver every queued item that is due now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Queue().PostQueued(ctx, time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d item(s)\n", n)
			return err
		})
	},
}

func init() {
	queueCmd.AddCommand(queueFlushCmd)
}
