// Package config loads and watches the analyzer policy file (policy.yaml).
//
// Top-level types:
//   - Config{Analysis, Simulation, Recovery, Thresholds, Snapshot, Output}
//   - AnalysisConfig: sub-score weights (must sum to 1.0), health target,
//     hours ceiling, trailing window, coverage cap, high-impact delta, blocks
//   - SimulationConfig: trials, failure range, duration, seed, workers,
//     timeout, targeted-search budget
//   - RecoveryConfig: success floor and the strategy catalogue
//   - ThresholdsConfig: per-metric tier bounds and actions
//   - SnapshotConfig, OutputConfig: input file, window, metrics file, NATS
//
// Load(path) reads the YAML file, applies defaults (0.4/0.3/0.3 weights,
// 320h ceiling, 10000 trials, 0.90 success floor), then validates.
// Every component copies the section it needs at construction, so a
// reloaded Config never changes an analysis already in flight.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config.
package config
