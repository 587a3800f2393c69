// Package api hosts the status server that runs alongside a crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live counters of the current crawl.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/sites for the run ledger.
package api
