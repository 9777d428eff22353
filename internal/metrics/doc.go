// Package metrics provides lock-free counters and a latency histogram.
//
// Counters live in cache-line-padded uint64 slots and are incremented with a single
// atomic add. The histogram uses 8 fixed buckets (<=5ms ... +Inf). Nothing here
// performs I/O; exporters under metrics/export read Snapshot values.
package metrics
