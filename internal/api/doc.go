// Package api hosts the operational HTTP server of the scraper. Routes:
//   - GET /healthz and /readyz for container health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/logs/stream for a server-sent event feed of progress messages,
//     optionally filtered with ?requestId=.
//   - POST /v1/jobs to enqueue a scrape job when the broker driver accepts
//     local submissions.
package api
