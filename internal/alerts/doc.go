// Package alerts implements the per-ticker alert state machine, the bounded
// alert history and its CSV export.
//
// A watch item is Armed until its score reaches the target, at which point it
// fires once and becomes Fired. It re-arms only after the score falls more than
// the hysteresis band below the target. Independently, a per-ticker cooldown
// limits alerts to one per window regardless of intervening resets.
package alerts
