package impact

import (
	"sort"
	"time"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// share is the hours one person carries on one rotation.
type share struct {
	rotationID string
	hours      float64
}

// Ledger holds prorated assignment hours per person and rotation over a
// window. Like Grid it is read-only after construction.
type Ledger struct {
	window  types.Window
	total   map[string]float64
	shares  map[string][]share
	members map[string][]string
}

// NewLedger prorates every assignment's Hours by the fraction of its span
// that falls inside w.
func NewLedger(snap *types.Snapshot, w types.Window) *Ledger {
	l := &Ledger{
		window:  w,
		total:   make(map[string]float64),
		shares:  make(map[string][]share),
		members: make(map[string][]string),
	}

	byPerson := make(map[string]map[string]float64)
	for _, a := range snap.Assignments {
		h := prorate(a, w)
		if h <= 0 {
			continue
		}
		l.total[a.PersonID] += h
		rot := byPerson[a.PersonID]
		if rot == nil {
			rot = make(map[string]float64)
			byPerson[a.PersonID] = rot
		}
		rot[a.RotationID] += h
	}

	for pid, rot := range byPerson {
		list := make([]share, 0, len(rot))
		for rid, h := range rot {
			list = append(list, share{rotationID: rid, hours: h})
			l.members[rid] = append(l.members[rid], pid)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].rotationID < list[j].rotationID })
		l.shares[pid] = list
	}
	for rid := range l.members {
		sort.Strings(l.members[rid])
	}
	return l
}

// Window returns the ledger window.
func (l *Ledger) Window() types.Window { return l.window }

// Hours returns personID's hours in the window.
func (l *Ledger) Hours(personID string) float64 {
	return l.total[personID]
}

// Absorb redistributes the hours of every absent person evenly across the
// colleagues still present on the same rotation. It returns the extra hours
// each absorber takes on. Hours on a rotation with nobody left are dropped;
// Grid.Failures already accounts for them as a coverage failure.
func (l *Ledger) Absorb(removed []string) map[string]float64 {
	absent := make(map[string]bool, len(removed))
	for _, id := range removed {
		absent[id] = true
	}

	extra := make(map[string]float64)
	for _, id := range uniq(removed) {
		for _, s := range l.shares[id] {
			var present []string
			for _, m := range l.members[s.rotationID] {
				if !absent[m] {
					present = append(present, m)
				}
			}
			if len(present) == 0 {
				continue
			}
			each := s.hours / float64(len(present))
			for _, m := range present {
				extra[m] += each
			}
		}
	}
	return extra
}

// Margin is the normalized slack between worked hours and ceiling, clamped
// to [0, 1]. The second return is the unclamped value; a negative raw margin
// means the ceiling is already exceeded.
func Margin(worked, ceiling float64) (float64, float64) {
	if ceiling <= 0 {
		return 1, 1
	}
	raw := (ceiling - worked) / ceiling
	return clamp01(raw), raw
}

// MeanMargin averages Margin over persons, skipping anyone in removed and
// adding extra hours where present. It returns 1.0 when nobody remains.
func (l *Ledger) MeanMargin(persons []types.Person, ceiling float64, removed []string, extra map[string]float64) float64 {
	skip := make(map[string]bool, len(removed))
	for _, id := range removed {
		skip[id] = true
	}
	var sum float64
	var n int
	for _, p := range persons {
		if skip[p.ID] {
			continue
		}
		m, _ := Margin(l.total[p.ID]+extra[p.ID], ceiling)
		sum += m
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// TrailingWindow returns the days-long window ending at end.
func TrailingWindow(end time.Time, days int) types.Window {
	return types.Window{Start: end.Add(-time.Duration(days) * types.Day), End: end}
}

func prorate(a types.Assignment, w types.Window) float64 {
	if !a.Overlaps(w.Start, w.End) || a.Hours <= 0 {
		return 0
	}
	span := a.End.Sub(a.Start)
	if span <= 0 {
		return 0
	}
	start, end := a.Start, a.End
	if start.Before(w.Start) {
		start = w.Start
	}
	if end.After(w.End) {
		end = w.End
	}
	return a.Hours * float64(end.Sub(start)) / float64(span)
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
