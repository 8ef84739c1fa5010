// Package snapshot provides the Accessor the engine reads schedules through.
//
// File decodes the JSON export written by the scheduling system; Static
// serves a snapshot held in memory. Both validate referential integrity
// and clip the schedule to the requested window before handing it out.
package snapshot
