// Package progress relays user-facing job progress messages. Each job owns a
// Relay that buffers events in memory and forwards them in small batches to
// pluggable sinks such as the HTTP log sink, a Redis live feed, or the
// in-process SSE broadcaster. Delivery is best-effort: failures are dropped.
package progress
