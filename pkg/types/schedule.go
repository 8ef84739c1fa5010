package types

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Day is the time unit every coverage calculation is bucketed into.
const Day = 24 * time.Hour

// ErrInvalidWindow is returned when a window ends before it starts.
var ErrInvalidWindow = errors.New("invalid window")

// Person is one member of the staffing roster.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// Tier is the role or seniority tier (e.g. "PGY1", "faculty").
	Tier string `json:"tier,omitempty"`

	// MaxHours is the maximum permitted hours per rolling window.
	// Zero means the policy ceiling applies.
	MaxHours float64 `json:"max_hours,omitempty"`
}

// RotationRequirement is the staffing requirement of one rotation.
type RotationRequirement struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	MinStaff     int    `json:"min_staff"`
	OptimalStaff int    `json:"optimal_staff,omitempty"`
	MaxStaff     int    `json:"max_staff,omitempty"`

	// Start and End bound the time the requirement applies to.
	// A zero value leaves that side unbounded.
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Assignment places a person on a rotation for a time span.
type Assignment struct {
	PersonID   string    `json:"person_id"`
	RotationID string    `json:"rotation_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Hours      float64   `json:"hours"`
}

// Overlaps reports whether the assignment intersects [start, end).
func (a Assignment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && a.End.After(start)
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects a window whose end precedes its start.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidWindow, w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Days returns the number of calendar days the window touches, rounding a
// partial trailing day up.
func (w Window) Days() int {
	d := w.End.Sub(w.Start)
	if d <= 0 {
		return 0
	}
	n := int(d / Day)
	if d%Day != 0 {
		n++
	}
	return n
}

// Snapshot is an immutable, time-boxed view of a schedule. No analysis
// component mutates it; it is safe to share between goroutines.
type Snapshot struct {
	// ID identifies the schedule scope the snapshot was taken from.
	ID          string                `json:"id"`
	Start       time.Time             `json:"start"`
	End         time.Time             `json:"end"`
	Persons     []Person              `json:"persons"`
	Rotations   []RotationRequirement `json:"rotations"`
	Assignments []Assignment          `json:"assignments"`
}

// Window returns the snapshot bounds.
func (s *Snapshot) Window() Window {
	return Window{Start: s.Start, End: s.End}
}

// AssignmentsOf returns the assignments of personID sorted by start time.
func (s *Snapshot) AssignmentsOf(personID string) []Assignment {
	var out []Assignment
	for _, a := range s.Assignments {
		if a.PersonID == personID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Person looks up a roster entry by ID.
func (s *Snapshot) Person(id string) (Person, bool) {
	for _, p := range s.Persons {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}

// Workload is the hours a person carries over a window, handed to the
// compliance predicate.
type Workload struct {
	Window Window  `json:"window"`
	Hours  float64 `json:"hours"`

	// ExtraHours is the portion of Hours absorbed from absent colleagues.
	ExtraHours float64 `json:"extra_hours,omitempty"`
}

// ViolationKind names a regulatory rule broken by a workload.
type ViolationKind string

const (
	ViolationHoursExceeded ViolationKind = "hours_exceeded"
	ViolationRestPeriod    ViolationKind = "rest_period"
	ViolationConsecutive   ViolationKind = "consecutive_duty"
)

// CompliancePredicate is the external validator's check for one person's
// workload. Implementations must be safe for concurrent use and must not
// block on I/O; the engine never substitutes a default result when one
// returns an error.
type CompliancePredicate func(p Person, w Workload) ([]ViolationKind, error)
