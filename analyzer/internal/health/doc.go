// Package health computes the schedule health score.
//
// score.go provides Calculator.Compute(snapshot, window), a pure function of
// its inputs that aggregates three normalized sub-scores:
// coverage(40%) + margin(30%) + continuity(30%). The weights come from
// policy and must sum to 1.0; New rejects anything else.
//
// blocks.go provides the BlockCalendar used to decide whether a rotation
// change is a mid-block switch: either fixed days of the month (1st and 15th
// by default) or fixed-length blocks counted from an anchor date.
//
// Degenerate input scores 1.0 for the affected component and always carries
// a "no data in window" warning.
package health
