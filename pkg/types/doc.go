// Package types defines shared Go types used by every analyzer component.
// These are the canonical in-memory representations of schedule snapshots
// and the reports produced from them, separate from any wire format the
// surrounding system chooses for persistence.
//
// schedule.go holds the read-only input model (Person, RotationRequirement,
// Assignment, Snapshot, Window). reports.go holds the per-component results.
// records.go holds the record shapes handed to storage and alerting.
package types
