// Package impact models what an absence does to a schedule.
//
// Grid buckets rotation headcount by day and answers Failures(removed):
// which rotations fall below MinStaff because of those absences. Both the
// contingency analyzer and the Monte Carlo simulator classify through
// Failures, so "critical" means the same thing everywhere.
//
// Ledger prorates assignment hours over a window and redistributes an
// absentee's hours to the colleagues left on the same rotation (Absorb),
// which drives margin and compliance impact.
package impact
