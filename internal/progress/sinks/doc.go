// Package sinks contains progress.Sink implementations: logs, Prometheus
// metrics and the run ledger.
package sinks
