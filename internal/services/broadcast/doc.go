// Package broadcast is the delivery engine: it fans one campaign out to a
// resolved recipient list under the external rate limit.
//
// Delivery semantics
//
// Delivery is best-effort with at-most-one full pass. The pass is sequential;
// per-recipient failures are counted and skipped, and only a cancelled
// context aborts the pass. Nothing per-recipient is persisted; the engine
// returns aggregate counts only.
package broadcast
