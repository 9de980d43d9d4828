// Package connection provides the reconnection back-off policy for a
// sensor session.
//
// When a connection attempt fails, the next attempt is delayed by an
// exponentially increasing back-off. After n consecutive failures the
// retry waits
//
//	delay = min(max, initial * 2^n)
//
// with defaults of 1 second initial and 60 seconds maximum, so the first
// retry waits 2 seconds. The failure counter resets on successful
// authentication. At the configured failure cap (default 10) the back-off
// reports exhaustion and the session stops reconnecting automatically.
//
// Optional jitter is available for deployments with many concurrent
// sessions; it is disabled by default so that scheduled delays match the
// documented sequence exactly.
package connection
