package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/sdk"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	var (
		receivers  []string
		start, end string
		staleOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List observing sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := sdk.SessionQuery{Receivers: receivers, StaleOnly: staleOnly}
			var err error
			if q.Start, err = httpx.ParseTime(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if q.End, err = httpx.ParseTime(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			client, err := root.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			sessions, err := client.Sessions(ctx, q)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tRECEIVER\tBAND\tSTART\tROWS\tMHZ\tSTALE")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f-%.2f\t%v\n",
					s.Name, s.Receiver, s.Label, s.Start.UTC().Format("2006-01-02 15:04"), s.Rows, s.FreqMin, s.FreqMax, s.Stale)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&receivers, "receivers", nil, "receiver names or aliases")
	cmd.Flags().StringVar(&start, "start", "", "only sessions overlapping this date or RFC3339 time onwards")
	cmd.Flags().StringVar(&end, "end", "", "only sessions overlapping up to this date or RFC3339 time")
	cmd.Flags().BoolVar(&staleOnly, "stale", false, "only sessions that need a backfill")
	return cmd
}
