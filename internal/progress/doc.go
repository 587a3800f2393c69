// Package progress carries crawl lifecycle events from the coordinator to
// pluggable sinks. Events are batched on a background goroutine so the crawl
// never waits on logging, metrics, or the run ledger.
package progress
