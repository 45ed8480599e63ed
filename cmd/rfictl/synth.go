package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/rfiscope/pkg/httpx"
)

type synthOptions struct {
	receiver string
	sessions int
	points   int
	freqLow  float64
	freqHigh float64
	spikes   int
	start    string
	seed     uint64
}

func newSynthCmd(root *rootOptions) *cobra.Command {
	opts := &synthOptions{}

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Push synthetic RFI scans to the server, one session per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.points < 2 || opts.sessions < 1 || opts.freqHigh <= opts.freqLow || opts.freqLow <= 0 {
				return fmt.Errorf("need --points >= 2, --sessions >= 1 and 0 < --freq-low < --freq-high")
			}

			start, err := httpx.ParseTime(opts.start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if start.IsZero() {
				start = time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -opts.sessions).Add(12 * time.Hour)
			}

			client, err := root.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			if err := client.Start(ctx); err != nil {
				return err
			}

			rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
			out := cmd.OutOrStdout()
			for i := 0; i < opts.sessions; i++ {
				at := start.AddDate(0, 0, i)
				session := fmt.Sprintf("TSYNTH_%s_%02d", at.Format("20060102"), i+1)
				freqs, intensities := synthScan(rng, opts.points, opts.freqLow, opts.freqHigh, opts.spikes)
				if err := client.RecordScan(session, opts.receiver, at, freqs, intensities); err != nil {
					return err
				}
				fmt.Fprintf(out, "📡 %s: %d samples on %s\n", session, opts.points, opts.receiver)
			}

			if err := client.Stop(); err != nil {
				return err
			}
			stats := client.Stats()
			if stats.Dropped > 0 {
				return fmt.Errorf("%d of %d samples were rejected", stats.Dropped, stats.Sent+stats.Dropped)
			}
			fmt.Fprintf(out, "✅ Sent %d samples\n", stats.Sent)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.receiver, "receiver", "Rcvr1_2", "receiver name recorded on the samples")
	cmd.Flags().IntVar(&opts.sessions, "sessions", 3, "number of sessions, one per day")
	cmd.Flags().IntVar(&opts.points, "points", 20000, "samples per session")
	cmd.Flags().Float64Var(&opts.freqLow, "freq-low", 1100, "lowest frequency in MHz")
	cmd.Flags().Float64Var(&opts.freqHigh, "freq-high", 1800, "highest frequency in MHz")
	cmd.Flags().IntVar(&opts.spikes, "spikes", 25, "interference spikes per session")
	cmd.Flags().StringVar(&opts.start, "start", "", "date of the first session (default: sessions days ago)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "random seed")
	return cmd
}

// synthScan returns a noisy, gently sloped baseline with narrow interference spikes.
// Intensities stay positive.
func synthScan(rng *rand.Rand, n int, lo, hi float64, spikes int) ([]float64, []float64) {
	step := (hi - lo) / float64(n-1)
	freqs := make([]float64, n)
	intensities := make([]float64, n)
	for i := range freqs {
		freqs[i] = lo + float64(i)*step
		slope := 0.3 * float64(i) / float64(n)
		intensities[i] = math.Abs(1 + slope + 0.05*rng.NormFloat64())
	}

	for s := 0; s < spikes; s++ {
		center := rng.IntN(n)
		peak := 20 + 180*rng.Float64()
		width := 1 + rng.IntN(4)
		for d := -3 * width; d <= 3*width; d++ {
			j := center + d
			if j < 0 || j >= n {
				continue
			}
			x := float64(d) / float64(width)
			intensities[j] += peak * math.Exp(-x*x/2)
		}
	}
	return freqs, intensities
}
