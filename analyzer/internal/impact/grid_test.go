package impact

import (
	"math"
	"testing"

	"github.com/rotaguard/rotaguard/analyzer/internal/schedtest"
	"github.com/rotaguard/rotaguard/pkg/types"
)

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestFailures_SurplusStaffAbsorbsOneAbsence(t *testing.T) {
	snap := schedtest.Team(5, 2, 14)
	g := NewGrid(snap, snap.Window())

	for i := 1; i <= 5; i++ {
		if f := g.Failures([]string{schedtest.PersonID(i)}, 0); len(f) != 0 {
			t.Errorf("p%d: got %d failures, want none (4 left >= 2)", i, len(f))
		}
	}
}

func TestFailures_ExactStaffingMakesEveryoneCritical(t *testing.T) {
	snap := schedtest.Team(2, 2, 14)
	g := NewGrid(snap, snap.Window())

	f := g.Failures([]string{"p1"}, 0)
	if len(f) != 1 {
		t.Fatalf("got %d failures, want 1", len(f))
	}
	if f[0].RotationID != "ward" || f[0].Shortfall != 1 || f[0].DaysAffected != 14 || f[0].FirstDay != 0 {
		t.Errorf("failure: got %+v", f[0])
	}
}

func TestFailures_UnassignedPersonNeverFails(t *testing.T) {
	snap := schedtest.New("s", 7).
		Rotation("icu", 1).
		Person("busy", "PGY2").FullTime("busy", "icu").
		Person("idle", "PGY2").
		Snapshot()
	g := NewGrid(snap, snap.Window())

	if g.Covers("idle") {
		t.Error("Covers(idle) = true, want false")
	}
	if f := g.Failures([]string{"idle"}, 0); len(f) != 0 {
		t.Errorf("idle absence: got %+v, want no failures", f)
	}
}

func TestFailures_BaselineShortfallIsNotAttributed(t *testing.T) {
	// Requires 3, only 2 assigned: the schedule is already short, but only
	// an absence that lowers headcount further counts as a failure.
	snap := schedtest.New("s", 7).
		Rotation("er", 3).
		Person("a", "PGY1").FullTime("a", "er").
		Person("b", "PGY1").FullTime("b", "er").
		Person("c", "PGY1").
		Snapshot()
	g := NewGrid(snap, snap.Window())

	if f := g.Failures([]string{"c"}, 0); len(f) != 0 {
		t.Errorf("absence of uninvolved person: got %+v", f)
	}
	f := g.Failures([]string{"a"}, 0)
	if len(f) != 1 || f[0].Shortfall != 2 {
		t.Errorf("absence of a: got %+v, want shortfall 2", f)
	}
}

func TestFailures_DayLimit(t *testing.T) {
	snap := schedtest.New("s", 14).
		Rotation("clinic", 1).
		Person("early", "PGY1").Assign("early", "clinic", 0, 7, 70).
		Person("late", "PGY1").Assign("late", "clinic", 7, 14, 70).
		Snapshot()
	g := NewGrid(snap, snap.Window())

	if f := g.Failures([]string{"late"}, 5); len(f) != 0 {
		t.Errorf("late absent for 5 days: got %+v, want none", f)
	}
	f := g.Failures([]string{"late"}, 0)
	if len(f) != 1 || f[0].DaysAffected != 7 || f[0].FirstDay != 7 {
		t.Errorf("late absent whole window: got %+v", f)
	}
}

func TestFailures_MultipleRotationsSorted(t *testing.T) {
	snap := schedtest.New("s", 7).
		Rotation("b-ward", 1).
		Rotation("a-ward", 1).
		Person("x", "PGY3").
		FullTime("x", "a-ward").
		FullTime("x", "b-ward").
		Snapshot()
	g := NewGrid(snap, snap.Window())

	f := g.Failures([]string{"x"}, 0)
	if len(f) != 2 {
		t.Fatalf("got %d failures, want 2", len(f))
	}
	// Rotation order follows the snapshot, not the alphabet.
	if f[0].RotationID != "b-ward" || f[1].RotationID != "a-ward" {
		t.Errorf("order: got %s, %s", f[0].RotationID, f[1].RotationID)
	}
	if got := UnderstaffingHours(f); got != 2*24*7 {
		t.Errorf("UnderstaffingHours = %g, want %d", got, 2*24*7)
	}
}

func TestFailures_SupersetNeverFailsLess(t *testing.T) {
	snap := schedtest.Team(4, 3, 10)
	g := NewGrid(snap, snap.Window())

	prev := 0
	removed := []string{}
	for i := 1; i <= 4; i++ {
		removed = append(removed, schedtest.PersonID(i))
		f := g.Failures(removed, 0)
		short := 0
		if len(f) > 0 {
			short = f[0].Shortfall
		}
		if short < prev {
			t.Fatalf("removing %v: shortfall %d dropped below %d", removed, short, prev)
		}
		prev = short
	}
	if prev != 3 {
		t.Errorf("everyone absent: shortfall %d, want 3", prev)
	}
}

func TestFailures_DuplicateIDsCountOnce(t *testing.T) {
	snap := schedtest.Team(3, 2, 7)
	g := NewGrid(snap, snap.Window())
	if f := g.Failures([]string{"p1", "p1"}, 0); len(f) != 0 {
		t.Errorf("duplicate removal: got %+v, want none", f)
	}
}

func TestCoverage_MinimumDailyHeadcount(t *testing.T) {
	snap := schedtest.New("s", 10).
		Rotation("ward", 2).
		Person("a", "PGY1").FullTime("a", "ward").
		Person("b", "PGY1").FullTime("b", "ward").
		Person("c", "PGY1").Assign("c", "ward", 0, 5, 50).
		Snapshot()
	g := NewGrid(snap, snap.Window())

	cov := g.Coverage()
	if len(cov) != 1 {
		t.Fatalf("got %d rotations", len(cov))
	}
	if cov[0].Actual != 2 || cov[0].Required != 2 {
		t.Errorf("coverage: got %+v, want actual 2 required 2", cov[0])
	}
}

func TestCoverage_InactiveRotationOmitted(t *testing.T) {
	snap := schedtest.New("s", 7).Rotation("ward", 1).Snapshot()
	snap.Rotations = append(snap.Rotations, types.RotationRequirement{
		ID:       "summer-camp",
		MinStaff: 2,
		Start:    schedtest.Day(30),
		End:      schedtest.Day(40),
	})
	g := NewGrid(snap, snap.Window())

	cov := g.Coverage()
	if len(cov) != 1 || cov[0].RotationID != "ward" {
		t.Errorf("coverage: got %+v, want only ward", cov)
	}
}

func TestLedger_ProratesAndAbsorbs(t *testing.T) {
	snap := schedtest.New("s", 10).
		Rotation("ward", 1).
		Person("a", "PGY1").Assign("a", "ward", 0, 10, 100).
		Person("b", "PGY1").Assign("b", "ward", 0, 10, 100).
		Person("c", "PGY1").Assign("c", "ward", 0, 10, 100).
		Snapshot()

	half := types.Window{Start: schedtest.Day(0), End: schedtest.Day(5)}
	l := NewLedger(snap, half)
	if !almostEqual(l.Hours("a"), 50, 1e-9) {
		t.Errorf("prorated hours: got %g, want 50", l.Hours("a"))
	}

	extra := l.Absorb([]string{"a"})
	if !almostEqual(extra["b"], 25, 1e-9) || !almostEqual(extra["c"], 25, 1e-9) {
		t.Errorf("absorb: got %v, want 25 each for b and c", extra)
	}
	if _, ok := extra["a"]; ok {
		t.Error("absent person must not absorb hours")
	}

	extra = l.Absorb([]string{"a", "b", "c"})
	if len(extra) != 0 {
		t.Errorf("nobody left: got %v, want empty", extra)
	}
}

func TestMargin(t *testing.T) {
	tests := []struct {
		name       string
		worked     float64
		wantMargin float64
		wantRaw    float64
	}{
		{"idle", 0, 1, 1},
		{"half", 160, 0.5, 0.5},
		{"at ceiling", 320, 0, 0},
		{"over ceiling", 400, 0, -0.25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, raw := Margin(tc.worked, 320)
			if !almostEqual(m, tc.wantMargin, 1e-9) || !almostEqual(raw, tc.wantRaw, 1e-9) {
				t.Errorf("Margin(%g) = %g, %g; want %g, %g", tc.worked, m, raw, tc.wantMargin, tc.wantRaw)
			}
		})
	}
}

func TestMeanMargin_SkipsRemoved(t *testing.T) {
	snap := schedtest.New("s", 28).
		Rotation("ward", 1).
		Person("a", "PGY1").Assign("a", "ward", 0, 28, 160).
		Person("b", "PGY1").Assign("b", "ward", 0, 28, 160).
		Snapshot()
	l := NewLedger(snap, snap.Window())

	if got := l.MeanMargin(snap.Persons, 320, nil, nil); !almostEqual(got, 0.5, 1e-9) {
		t.Errorf("baseline mean margin = %g, want 0.5", got)
	}
	extra := l.Absorb([]string{"a"})
	if got := l.MeanMargin(snap.Persons, 320, []string{"a"}, extra); !almostEqual(got, 0, 1e-9) {
		t.Errorf("after absorbing = %g, want 0", got)
	}
	if got := l.MeanMargin(snap.Persons, 320, []string{"a", "b"}, nil); got != 1 {
		t.Errorf("nobody left = %g, want 1", got)
	}
}
