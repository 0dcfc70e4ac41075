// Package scheduler runs the broadcast scheduling loop.
//
// Two independent timer cadences (fast ~15s, slow ~60s) run the same
// idempotent due-check against the campaign store. A due campaign is claimed
// with an atomic scheduled->sent flip before delivery starts, so a campaign
// seen by both cadences is still delivered at most once. Delivery is
// best-effort: a crash mid-pass leaves the campaign marked sent with the
// provisional counts, and nothing is resumed or retried.
//
// The slow cadence additionally sweeps scheduled campaigns that fell past
// the staleness cutoff, cancelling them instead of leaving them dangling.
package scheduler
