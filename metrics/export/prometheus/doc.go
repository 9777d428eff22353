// Package prometheus exposes authcore metrics through a client_golang Collector.
//
// NewCollector reads one snapshot per scrape and emits constant counters named
// authcore_*_total plus the authcore_validate_latency_seconds histogram. Nothing is
// registered globally; callers register the collector with their own registry.
package prometheus
