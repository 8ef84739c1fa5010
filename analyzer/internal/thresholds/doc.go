// Package thresholds maps analysis metrics to status tiers.
//
// Each rule names a metric, a comparison operator and the bound for YELLOW,
// ORANGE, RED and BLACK. Bounds are tested worst tier first and a value
// that crosses none of them is GREEN. The Evaluator remembers the last tier
// per schedule and metric and emits an EventRecord on every change,
// including the "overall" tier, so transitions can be audited.
package thresholds
