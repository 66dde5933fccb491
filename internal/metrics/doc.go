// Package metrics aggregates request statistics for a load run.
//
// Every virtual user owns a [LocalStats] that it records into without any
// synchronisation. Roughly once per second the VU merges its delta into the
// shared [Aggregator] and clears it:
//
//	local := metrics.NewLocalStats()
//	local.RecordRequest(latency, sent, received)
//	local.RecordError(metrics.StatusErrorName)
//	local.FlushTo(agg)
//
// The Aggregator keeps monotonically increasing counters in atomics, the error
// map in a concurrent map and the latency histogram behind a mutex, so merges
// from many VUs may interleave freely. [Aggregator.Snapshot] produces an
// immutable [Snapshot] that can be rendered or evaluated after the run.
//
// Latencies are recorded in microseconds in an HDR histogram covering 1µs to
// 60s with three significant figures; values outside that range are clamped.
package metrics
