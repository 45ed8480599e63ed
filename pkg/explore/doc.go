// Package explore keeps per-user zoom and pan state for interactive plots.
//
// An exploration is opened from the plot form, holds the resulting plan and
// a viewport.Session, and is addressed by a random id:
//
//	POST   /v1/explore                 open, returns the full-range view
//	POST   /v1/explore/{id}/viewport   reduce one viewport
//	GET    /v1/explore/{id}/ws         the same exchange over a websocket
//	DELETE /v1/explore/{id}            close
//
// Viewport requests carry a sequence number. A request that is not newer
// than the last one seen, or that is overtaken while it runs, is answered
// with 409 (or a "stale" websocket message) so only the latest view is drawn.
// Explorations idle for longer than the registry ttl are swept.
package explore
