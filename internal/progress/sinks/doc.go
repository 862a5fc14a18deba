// Package sinks implements concrete progress consumers: the HTTP log sink of
// the offers API, a Redis live feed, an in-process broadcaster for SSE
// observers, Prometheus counters, and structured logging. Each sink satisfies
// the progress.Sink interface and is safe for concurrent use.
package sinks
