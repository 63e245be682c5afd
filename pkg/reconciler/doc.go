/*
Package reconciler runs Paddock's periodic tick: polling in-flight
provider actions to completion and running the maintenance sweeps (app
expiration, stale-action cleanup, log retention, temp-file cleanup,
notification dispatch) in a fixed order.

Ticks are short-lived run-to-completion batches. A TTL run guard keeps
ticks from overlapping, and each slow sweep honors its own interval so
a one-minute tick does not imply one-minute retention scans. The
"paddock tick" command forces a single full pass for cron-style setups.
*/
package reconciler
