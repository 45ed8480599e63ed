package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/sdk"
	"github.com/nicktill/rfiscope/pkg/storage/badger"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

type backfillOptions struct {
	reset     bool
	staleOnly bool
	workers   int

	// offline mode opens the store directly; the server must be stopped
	dataDir    string
	policyPath string
}

func newBackfillCmd(root *rootOptions) *cobra.Command {
	opts := &backfillOptions{}

	cmd := &cobra.Command{
		Use:   "backfill [session...]",
		Short: "Rebuild view level flags for sessions (all sessions when none are named)",
		Long: `Rebuild the decimated view levels of each session.

By default the running server performs the backfill. With --data-dir the
store is opened directly, which requires the server to be stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			var (
				result *tiering.Result
				err    error
			)
			if opts.dataDir != "" {
				result, err = backfillOffline(ctx, args, opts)
			} else {
				result, err = backfillRemote(ctx, root, args, opts)
			}
			if err != nil {
				return err
			}
			printBackfill(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.reset, "reset", false, "clear existing flags of the selected sessions first")
	cmd.Flags().BoolVar(&opts.staleOnly, "stale-only", false, "skip sessions not written since their last backfill")
	cmd.Flags().IntVar(&opts.workers, "workers", runtime.NumCPU(), "sessions processed in parallel")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "open the badger store at this path instead of calling the server")
	cmd.Flags().StringVar(&opts.policyPath, "config", "", "receiver policy file for --data-dir (default built-in policy)")
	return cmd
}

func backfillRemote(ctx context.Context, root *rootOptions, sessions []string, opts *backfillOptions) (*tiering.Result, error) {
	client, err := root.client()
	if err != nil {
		return nil, err
	}
	return client.Backfill(ctx, sdk.BackfillRequest{
		Sessions:  sessions,
		Reset:     opts.reset,
		StaleOnly: opts.staleOnly,
		Workers:   opts.workers,
	})
}

func backfillOffline(ctx context.Context, sessions []string, opts *backfillOptions) (*tiering.Result, error) {
	policy := config.DefaultPolicy()
	if opts.policyPath != "" {
		var err error
		if policy, err = config.LoadPolicy(opts.policyPath); err != nil {
			return nil, err
		}
	}

	store, err := badger.New(badger.Config{Path: opts.dataDir, MaxMemoryMB: config.DefaultMaxMemoryMB})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	backfiller, err := tiering.NewBackfiller(store, policy)
	if err != nil {
		return nil, err
	}
	return backfiller.Run(ctx, tiering.Options{
		Sessions:  sessions,
		Reset:     opts.reset,
		StaleOnly: opts.staleOnly,
		Workers:   opts.workers,
	})
}

func printBackfill(out io.Writer, result *tiering.Result) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tRECEIVER\tROWS\tLEVELS\tDURATION")
	for _, s := range result.Scopes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%v\n", s.Session, s.Receiver, s.Rows, s.Levels, s.Duration.Round(time.Millisecond))
	}
	w.Flush()
	fmt.Fprintf(out, "%d sessions rebuilt, %d skipped\n", len(result.Scopes), result.Skipped)
}
