package impact

import (
	"sort"
	"time"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// cell is one (rotation row, day) slot a person helps cover.
type cell struct {
	row int
	day int
}

// Grid is the day-bucketed headcount of every rotation over a window.
// It is built once per analysis and is read-only afterwards, so one Grid
// can serve any number of concurrent Failures calls.
type Grid struct {
	window    types.Window
	days      int
	rotations []types.RotationRequirement
	active    [][]bool
	headcount [][]int
	cells     map[string][]cell
}

// NewGrid buckets snap's assignments into days of w. Assignments on
// rotations the snapshot does not define are ignored.
func NewGrid(snap *types.Snapshot, w types.Window) *Grid {
	g := &Grid{
		window:    w,
		days:      w.Days(),
		rotations: append([]types.RotationRequirement(nil), snap.Rotations...),
		cells:     make(map[string][]cell),
	}

	index := make(map[string]int, len(g.rotations))
	g.active = make([][]bool, len(g.rotations))
	g.headcount = make([][]int, len(g.rotations))
	for i, r := range g.rotations {
		index[r.ID] = i
		g.active[i] = make([]bool, g.days)
		g.headcount[i] = make([]int, g.days)
		for d := 0; d < g.days; d++ {
			start, end := g.dayBounds(d)
			g.active[i][d] = rotationApplies(r, start, end)
		}
	}

	seen := make(map[string]map[cell]bool)
	for _, a := range snap.Assignments {
		row, ok := index[a.RotationID]
		if !ok || !a.Overlaps(w.Start, w.End) {
			continue
		}
		covered := seen[a.PersonID]
		if covered == nil {
			covered = make(map[cell]bool)
			seen[a.PersonID] = covered
		}
		for d := 0; d < g.days; d++ {
			start, end := g.dayBounds(d)
			if !a.Overlaps(start, end) {
				continue
			}
			c := cell{row: row, day: d}
			if covered[c] {
				continue
			}
			covered[c] = true
			g.headcount[row][d]++
			g.cells[a.PersonID] = append(g.cells[a.PersonID], c)
		}
	}
	return g
}

// Days returns the number of day buckets in the grid.
func (g *Grid) Days() int { return g.days }

// Window returns the window the grid was built over.
func (g *Grid) Window() types.Window { return g.window }

// Covers reports whether personID contributes to any rotation in the window.
func (g *Grid) Covers(personID string) bool {
	return len(g.cells[personID]) > 0
}

// Coverage returns, per rotation active in the window, its requirement and
// its minimum daily headcount. Rotations inactive for the whole window are
// omitted.
func (g *Grid) Coverage() []types.RotationCoverage {
	var out []types.RotationCoverage
	for i, r := range g.rotations {
		minHead := -1
		for d := 0; d < g.days; d++ {
			if !g.active[i][d] {
				continue
			}
			if minHead < 0 || g.headcount[i][d] < minHead {
				minHead = g.headcount[i][d]
			}
		}
		if minHead < 0 {
			continue
		}
		out = append(out, types.RotationCoverage{
			RotationID: r.ID,
			Required:   r.MinStaff,
			Actual:     minHead,
		})
	}
	return out
}

// Failures returns the rotations driven below their requirement when every
// person in removed is absent for the first dayLimit days of the window
// (dayLimit <= 0 means the whole window).
//
// A rotation fails on a day when its remaining headcount is below MinStaff
// and the absences lowered it; shortfalls that exist in the baseline
// schedule are not attributed to anyone. This is the only definition of a
// critical absence in the analyzer.
func (g *Grid) Failures(removed []string, dayLimit int) []types.RotationFailure {
	if dayLimit <= 0 || dayLimit > g.days {
		dayLimit = g.days
	}

	lost := make(map[cell]int)
	for _, id := range uniq(removed) {
		for _, c := range g.cells[id] {
			if c.day < dayLimit {
				lost[c]++
			}
		}
	}
	if len(lost) == 0 {
		return nil
	}

	byRow := make(map[int]*types.RotationFailure)
	for c, n := range lost {
		if !g.active[c.row][c.day] {
			continue
		}
		required := g.rotations[c.row].MinStaff
		after := g.headcount[c.row][c.day] - n
		if after >= required {
			continue
		}
		deficit := required - after
		f, ok := byRow[c.row]
		if !ok {
			f = &types.RotationFailure{RotationID: g.rotations[c.row].ID, FirstDay: c.day}
			byRow[c.row] = f
		}
		f.DaysAffected++
		if deficit > f.Shortfall {
			f.Shortfall = deficit
		}
		if c.day < f.FirstDay {
			f.FirstDay = c.day
		}
	}

	rows := make([]int, 0, len(byRow))
	for row := range byRow {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	out := make([]types.RotationFailure, 0, len(rows))
	for _, row := range rows {
		out = append(out, *byRow[row])
	}
	return out
}

func (g *Grid) dayBounds(d int) (time.Time, time.Time) {
	start := g.window.Start.Add(time.Duration(d) * types.Day)
	end := start.Add(types.Day)
	if end.After(g.window.End) {
		end = g.window.End
	}
	return start, end
}

// rotationApplies reports whether r's time window intersects [start, end).
func rotationApplies(r types.RotationRequirement, start, end time.Time) bool {
	if !r.Start.IsZero() && !r.Start.Before(end) {
		return false
	}
	if !r.End.IsZero() && !r.End.After(start) {
		return false
	}
	return true
}

func uniq(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// UnderstaffingHours converts failures into staff-hours of uncovered demand:
// shortfall × 24 × days affected, summed over rotations.
func UnderstaffingHours(failures []types.RotationFailure) float64 {
	var total float64
	for _, f := range failures {
		total += float64(f.Shortfall) * 24 * float64(f.DaysAffected)
	}
	return total
}

// Worst returns the failure with the largest shortfall × days, or false
// when failures is empty. Ties go to the earlier rotation.
func Worst(failures []types.RotationFailure) (types.RotationFailure, bool) {
	if len(failures) == 0 {
		return types.RotationFailure{}, false
	}
	best := failures[0]
	for _, f := range failures[1:] {
		if f.Shortfall*f.DaysAffected > best.Shortfall*best.DaysAffected {
			best = f
		}
	}
	return best, true
}
