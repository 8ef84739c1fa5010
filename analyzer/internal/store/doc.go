// Package store keeps the latest analysis report per schedule in memory
// with TTL eviction. The binary's watch mode writes to it after every run
// and the metrics exporter reads from it.
package store
