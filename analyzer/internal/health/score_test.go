package health

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/analyzer/internal/schedtest"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := New(config.Defaults().Analysis)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCompute_ExactlyAtMinimum(t *testing.T) {
	snap := schedtest.Team(2, 2, 14)
	rep, err := newCalculator(t).Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// actual == required → 1.0/1.5, "tight, no buffer".
	if !almostEqual(rep.Coverage, 1.0/1.5, 1e-9) {
		t.Errorf("Coverage = %.4f, want %.4f", rep.Coverage, 1.0/1.5)
	}
	// 14 days × 8h = 112h of 320h → margin 0.65.
	if !almostEqual(rep.Margin, 0.65, 1e-9) {
		t.Errorf("Margin = %.4f, want 0.65", rep.Margin)
	}
	if rep.Continuity != 1 {
		t.Errorf("Continuity = %.4f, want 1", rep.Continuity)
	}
	want := 0.4*(1.0/1.5) + 0.3*0.65 + 0.3*1
	if !almostEqual(rep.Score, want, 1e-9) {
		t.Errorf("Score = %.6f, want %.6f", rep.Score, want)
	}
	if !containsPrefix(rep.Warnings, "rotation ward staffed exactly at minimum") {
		t.Errorf("missing no-buffer warning: %v", rep.Warnings)
	}
}

func TestCompute_AggregateMatchesWeights(t *testing.T) {
	snaps := []*types.Snapshot{
		schedtest.Team(1, 3, 7),
		schedtest.Team(5, 2, 28),
		schedtest.Team(8, 2, 3),
		schedtest.New("mixed", 28).
			Rotation("icu", 2).Rotation("clinic", 0).
			Person("a", "PGY1").Assign("a", "icu", 0, 10, 300).Assign("a", "clinic", 10, 28, 200).
			Person("b", "PGY2").Assign("b", "icu", 0, 28, 330).
			Snapshot(),
	}
	c := newCalculator(t)

	for _, snap := range snaps {
		rep, err := c.Compute(snap, snap.Window())
		if err != nil {
			t.Fatalf("%s: Compute: %v", snap.ID, err)
		}
		for name, v := range map[string]float64{
			"coverage": rep.Coverage, "margin": rep.Margin, "continuity": rep.Continuity, "score": rep.Score,
		} {
			if v < 0 || v > 1 {
				t.Errorf("%s: %s = %g out of [0,1]", snap.ID, name, v)
			}
		}
		want := 0.4*rep.Coverage + 0.3*rep.Margin + 0.3*rep.Continuity
		if !almostEqual(rep.Score, want, 1e-12) {
			t.Errorf("%s: Score = %.12f, weighted sum = %.12f", snap.ID, rep.Score, want)
		}
	}
}

func TestCompute_OverstaffingIsCapped(t *testing.T) {
	snap := schedtest.Team(6, 2, 7)
	rep, err := newCalculator(t).Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if rep.Coverage != 1 {
		t.Errorf("Coverage = %g, want 1 (ratio 3.0 capped at 1.5)", rep.Coverage)
	}
}

func TestCompute_ZeroRequirementScoresOne(t *testing.T) {
	snap := schedtest.New("s", 7).Rotation("optional", 0).Person("a", "PGY1").Snapshot()
	rep, err := newCalculator(t).Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if rep.Coverage != 1 {
		t.Errorf("Coverage = %g, want 1", rep.Coverage)
	}
}

func TestCompute_EmptySnapshotWarns(t *testing.T) {
	snap := schedtest.New("empty", 14).Snapshot()
	rep, err := newCalculator(t).Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if rep.Score != 1 || rep.Coverage != 1 || rep.Margin != 1 || rep.Continuity != 1 {
		t.Errorf("empty snapshot: got %+v, want all 1.0", rep)
	}
	for _, w := range []string{WarnNoRotations, WarnNoPersons, WarnNoAssignments} {
		if !containsPrefix(rep.Warnings, w) {
			t.Errorf("missing warning %q in %v", w, rep.Warnings)
		}
	}
}

func TestCompute_OverCeilingSurfacesWarning(t *testing.T) {
	snap := schedtest.New("s", 28).
		Rotation("icu", 1).
		Person("tired", "PGY1").Assign("tired", "icu", 0, 28, 400).
		Snapshot()
	rep, err := newCalculator(t).Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if rep.Margin != 0 {
		t.Errorf("Margin = %g, want 0 after clamping", rep.Margin)
	}
	if !containsPrefix(rep.Warnings, "compliance: tired worked 400.0h") {
		t.Errorf("over-ceiling warning missing: %v", rep.Warnings)
	}
}

func TestCompute_InvalidWindow(t *testing.T) {
	snap := schedtest.Team(2, 1, 7)
	_, err := newCalculator(t).Compute(snap, types.Window{Start: schedtest.Day(5), End: schedtest.Day(1)})
	if !errors.Is(err, types.ErrInvalidWindow) {
		t.Fatalf("err = %v, want ErrInvalidWindow", err)
	}
}

func TestCompute_MidBlockSwitch(t *testing.T) {
	tests := []struct {
		name         string
		switchDay    int
		wantSwitches int
		wantCont     float64
	}{
		// Window is March 1–28; the 15th is a boundary, so two blocks.
		{"switch on the 6th", 5, 1, 0.5},
		{"switch on the 15th", 14, 0, 1},
	}
	c := newCalculator(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := schedtest.New("s", 28).
				Rotation("icu", 0).Rotation("clinic", 0).
				Person("a", "PGY1").
				Assign("a", "icu", 0, tc.switchDay, 10).
				Assign("a", "clinic", tc.switchDay, 28, 10).
				Snapshot()
			rep, err := c.Compute(snap, snap.Window())
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if got := rep.Persons[0].Switches; got != tc.wantSwitches {
				t.Errorf("Switches = %d, want %d", got, tc.wantSwitches)
			}
			if !almostEqual(rep.Continuity, tc.wantCont, 1e-9) {
				t.Errorf("Continuity = %g, want %g", rep.Continuity, tc.wantCont)
			}
		})
	}
}

func TestBlockCalendar_FixedLength(t *testing.T) {
	cal, err := NewBlockCalendar(config.BlockConfig{LengthDays: 7, Anchor: "2026-03-01"})
	if err != nil {
		t.Fatalf("NewBlockCalendar: %v", err)
	}
	if !cal.IsBoundary(schedtest.Day(7)) || !cal.IsBoundary(schedtest.Day(-7)) {
		t.Error("days 7 and -7 from the anchor should be boundaries")
	}
	if cal.IsBoundary(schedtest.Day(3)) {
		t.Error("day 3 should not be a boundary")
	}
	w := types.Window{Start: schedtest.Day(0), End: schedtest.Day(28)}
	if got := cal.Blocks(w); got != 4 {
		t.Errorf("Blocks = %d, want 4", got)
	}
}

func TestNew_RejectsBadWeights(t *testing.T) {
	cfg := config.Defaults().Analysis
	cfg.Weights = config.WeightsConfig{Coverage: 0.5, Margin: 0.5, Continuity: 0.5}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for weights summing to 1.5")
	}
}

func TestCompute_Idempotent(t *testing.T) {
	snap := schedtest.New("s", 28).
		Rotation("icu", 2).Rotation("clinic", 1).
		Person("a", "PGY1").Assign("a", "icu", 0, 9, 100).Assign("a", "clinic", 9, 28, 190).
		Person("b", "PGY2").FullTime("b", "icu").
		Person("c", "PGY3").FullTime("c", "clinic").
		Snapshot()
	c := newCalculator(t)

	first, err := c.Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	second, err := c.Compute(snap, snap.Window())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reports differ:\n%+v\n%+v", first, second)
	}
}

func containsPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
