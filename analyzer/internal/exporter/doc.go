// Package exporter renders stored reports as Prometheus gauges in the text
// exposition format. The binary writes them to a file after every run so a
// textfile collector can pick them up; there is no HTTP listener.
package exporter
