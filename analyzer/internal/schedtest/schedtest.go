// Package schedtest builds schedule snapshots for tests.
package schedtest

import (
	"strconv"
	"time"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// Base is the fixed start of every test window so timings are deterministic.
var Base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// HoursPerDay is what FullTime credits for each day on a rotation.
const HoursPerDay = 8.0

// Builder accumulates a snapshot.
type Builder struct {
	snap types.Snapshot
}

// New starts a snapshot covering days days from Base.
func New(id string, days int) *Builder {
	return &Builder{snap: types.Snapshot{
		ID:    id,
		Start: Base,
		End:   Day(days),
	}}
}

// Day returns Base advanced by n days.
func Day(n int) time.Time {
	return Base.Add(time.Duration(n) * types.Day)
}

// Person adds a roster entry.
func (b *Builder) Person(id, tier string) *Builder {
	b.snap.Persons = append(b.snap.Persons, types.Person{ID: id, Name: id, Tier: tier})
	return b
}

// PersonWithLimit adds a roster entry with its own hours limit.
func (b *Builder) PersonWithLimit(id, tier string, maxHours float64) *Builder {
	b.snap.Persons = append(b.snap.Persons, types.Person{ID: id, Name: id, Tier: tier, MaxHours: maxHours})
	return b
}

// Rotation adds a requirement active for the whole snapshot.
func (b *Builder) Rotation(id string, minStaff int) *Builder {
	b.snap.Rotations = append(b.snap.Rotations, types.RotationRequirement{
		ID:           id,
		Name:         id,
		MinStaff:     minStaff,
		OptimalStaff: minStaff + 1,
		MaxStaff:     minStaff + 3,
	})
	return b
}

// Assign places personID on rotationID for days [from, to) with the given
// total hours.
func (b *Builder) Assign(personID, rotationID string, from, to int, hours float64) *Builder {
	b.snap.Assignments = append(b.snap.Assignments, types.Assignment{
		PersonID:   personID,
		RotationID: rotationID,
		Start:      Day(from),
		End:        Day(to),
		Hours:      hours,
	})
	return b
}

// FullTime places personID on rotationID for the whole snapshot at
// HoursPerDay.
func (b *Builder) FullTime(personID, rotationID string) *Builder {
	days := b.snap.Window().Days()
	return b.Assign(personID, rotationID, 0, days, float64(days)*HoursPerDay)
}

// Snapshot returns the built snapshot.
func (b *Builder) Snapshot() *types.Snapshot {
	s := b.snap
	return &s
}

// Team returns a snapshot of n persons (p1..pn, tier "PGY1") all full time
// on a single rotation "ward" requiring minStaff, over days days.
func Team(n, minStaff, days int) *types.Snapshot {
	b := New("team", days).Rotation("ward", minStaff)
	for i := 1; i <= n; i++ {
		id := PersonID(i)
		b.Person(id, "PGY1").FullTime(id, "ward")
	}
	return b.Snapshot()
}

// PersonID returns the conventional test ID "p<i>".
func PersonID(i int) string {
	return "p" + strconv.Itoa(i)
}
