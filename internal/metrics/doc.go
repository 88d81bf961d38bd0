// Package metrics exposes scheduler activity to Prometheus.
//
// Recorder is a scheduler sink that counts executions; Collector reads
// task states and engine counters at scrape time; Server serves them over
// HTTP.
package metrics
