/*
Package tiering precomputes view levels: bounded, feature-preserving subsets
of each observing session that the viewport reducer serves when a plot is
zoomed out.

# View Levels

A session of n samples is reduced once per level. The default policy keeps:

	view_level_0   1,250 samples        whole-band overview
	view_level_1   0.9% of the session
	view_level_2   4% of the session
	view_level_3   10% of the session   just above exact slicing

Budgets never shrink from one level to the next, so a small session simply
keeps every sample at every level.

# How a Level Is Built (peaks strategy)

	stride    = max(1, n / budget)
	threshold = median(intensity) * 5
	members   = every stride-th sample
	          ∪ strict local maxima above threshold, at least stride apart

The stride samples keep the baseline and zero regions visible. The peaks keep
narrow interference spikes that a pure stride would step over. Other
strategies (stride, mean, prominence) implement the same Strategy contract.

# Flags

Membership is stored as a bit per level on each sample (spectrum.TierMask),
so levels cost no extra rows. Rows written after a session was tiered carry
no flags and stay out of every level until the next backfill. Backfiller.Run
with StaleOnly set rebuilds exactly those sessions.

# Usage Example

	backfiller, err := tiering.NewBackfiller(store, config.DefaultPolicy())
	if err != nil {
	    log.Fatal(err)
	}
	result, err := backfiller.Run(ctx, tiering.Options{
	    Sessions: []string{"AGBT24A_001_01"},
	    Reset:    true,
	    Workers:  4,
	})

Sessions are independent: a worker processes one session fully before it
takes the next, and no two workers touch the same rows.
*/
package tiering
