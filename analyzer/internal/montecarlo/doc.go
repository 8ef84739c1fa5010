// Package montecarlo stress-tests a schedule with simulated absences.
//
// simulator.go draws Trials random absence sets and scores each with the
// same coverage failure rule as N-1 analysis (impact.Grid.Failures). Trials
// are grouped into fixed-size chunks, each with its own PCG stream derived
// from (seed, chunk index), so a fixed seed reproduces the result exactly
// whatever the worker count. worstcase.go then searches combinations of
// critical persons and of people within the same seniority tier, because a random sample rarely
// hits the single worst combination. stats.go aggregates collapse
// probability, time-to-failure percentiles and fragile rotations.
//
// On context expiry the simulator returns what it completed with
// Complete=false rather than an error.
package montecarlo
