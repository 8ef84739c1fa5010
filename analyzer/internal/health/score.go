package health

import (
	"fmt"
	"math"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/analyzer/internal/impact"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// Warning text for components computed from an empty denominator. A perfect
// score on no data is not evidence of resilience.
const (
	WarnNoRotations   = "no data in window: no rotation requirements apply"
	WarnNoPersons     = "no data in window: roster is empty"
	WarnNoAssignments = "no data in window: no assignments overlap the window"
)

// marginTarget is the per-person margin below which an hours reduction is
// recommended.
const marginTarget = 0.10

// Calculator computes health reports. It holds an immutable copy of the
// analysis policy and is safe for concurrent use.
type Calculator struct {
	weights      config.WeightsConfig
	ceiling      float64
	trailingDays int
	coverageCap  float64
	blocks       BlockCalendar
}

// New builds a Calculator from the analysis policy. It rejects weights that
// do not sum to 1.0.
func New(cfg config.AnalysisConfig) (*Calculator, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	if cfg.HoursCeiling <= 0 {
		return nil, fmt.Errorf("health: hours ceiling must be positive")
	}
	if cfg.CoverageCap < 1 {
		return nil, fmt.Errorf("health: coverage cap must be at least 1")
	}
	blocks, err := NewBlockCalendar(cfg.Blocks)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	trailing := cfg.TrailingDays
	if trailing <= 0 {
		trailing = config.DefaultTrailingDays
	}
	return &Calculator{
		weights:      cfg.Weights,
		ceiling:      cfg.HoursCeiling,
		trailingDays: trailing,
		coverageCap:  cfg.CoverageCap,
		blocks:       blocks,
	}, nil
}

// Compute scores snap over w.
//
// Formula:
//
//	coverage   = mean over rotations of min(actual/required, cap) / cap
//	margin     = mean over persons of clamp01((ceiling - worked) / ceiling)
//	continuity = mean over persons of max(0, 1 - switches/expectedBlocks)
//	score      = 0.4*coverage + 0.3*margin + 0.3*continuity
//
// A component with nothing to average scores 1.0 and adds a "no data in
// window" warning.
func (c *Calculator) Compute(snap *types.Snapshot, w types.Window) (*types.HealthReport, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}

	rep := &types.HealthReport{}
	grid := impact.NewGrid(snap, w)

	rep.Coverage = c.coverage(grid, rep)
	rep.Margin = c.margin(snap, w, rep)
	rep.Continuity = c.continuity(snap, w, rep)

	if !anyAssignmentIn(snap, w) {
		rep.Warnings = append(rep.Warnings, WarnNoAssignments)
	}

	rep.Score = clamp01(rep.Coverage*c.weights.Coverage +
		rep.Margin*c.weights.Margin +
		rep.Continuity*c.weights.Continuity)

	return rep, nil
}

func (c *Calculator) coverage(grid *impact.Grid, rep *types.HealthReport) float64 {
	rotations := grid.Coverage()
	if len(rotations) == 0 {
		rep.Warnings = append(rep.Warnings, WarnNoRotations)
		return 1
	}

	var sum float64
	for _, rc := range rotations {
		rc.Score = c.rotationScore(rc)
		sum += rc.Score
		rep.Rotations = append(rep.Rotations, rc)

		switch {
		case rc.Required > 0 && rc.Actual < rc.Required:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf(
				"rotation %s understaffed: %d of %d required", rc.RotationID, rc.Actual, rc.Required))
			rep.Recommendations = append(rep.Recommendations, fmt.Sprintf(
				"Add %d staff to %s to reach minimum coverage", rc.Required-rc.Actual, rc.RotationID))
		case rc.Required > 0 && rc.Actual == rc.Required:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf(
				"rotation %s staffed exactly at minimum (no buffer)", rc.RotationID))
			rep.Recommendations = append(rep.Recommendations, fmt.Sprintf(
				"Add one backup to %s so a single absence does not breach minimum", rc.RotationID))
		}
	}
	return sum / float64(len(rotations))
}

// rotationScore normalizes one rotation's staffing ratio.
// Rotations with no requirement score 1.0.
func (c *Calculator) rotationScore(rc types.RotationCoverage) float64 {
	if rc.Required <= 0 {
		return 1
	}
	ratio := math.Min(float64(rc.Actual)/float64(rc.Required), c.coverageCap)
	return ratio / c.coverageCap
}

func (c *Calculator) margin(snap *types.Snapshot, w types.Window, rep *types.HealthReport) float64 {
	if len(snap.Persons) == 0 {
		rep.Warnings = append(rep.Warnings, WarnNoPersons)
		return 1
	}

	trailing := impact.TrailingWindow(w.End, c.trailingDays)
	ledger := impact.NewLedger(snap, trailing)

	var sum float64
	for _, p := range snap.Persons {
		worked := ledger.Hours(p.ID)
		m, raw := impact.Margin(worked, c.ceiling)
		sum += m
		rep.Persons = append(rep.Persons, types.PersonHealth{
			PersonID:    p.ID,
			HoursWorked: worked,
			Margin:      m,
		})

		switch {
		case raw < 0:
			rep.Warnings = append(rep.Warnings, fmt.Sprintf(
				"compliance: %s worked %.1fh in the trailing %d days, %.1fh over the %.0fh ceiling",
				p.ID, worked, c.trailingDays, worked-c.ceiling, c.ceiling))
			rep.Recommendations = append(rep.Recommendations, fmt.Sprintf(
				"Remove at least %.1fh from %s's schedule", worked-c.ceiling, p.ID))
		case raw < marginTarget:
			rep.Recommendations = append(rep.Recommendations, fmt.Sprintf(
				"Reduce scheduled hours for %s (%.0f%% of ceiling)", p.ID, worked/c.ceiling*100))
		}
	}
	return sum / float64(len(snap.Persons))
}

func (c *Calculator) continuity(snap *types.Snapshot, w types.Window, rep *types.HealthReport) float64 {
	if len(snap.Persons) == 0 {
		return 1
	}
	expected := c.blocks.Blocks(w)

	var sum float64
	for i, p := range snap.Persons {
		switches := c.midBlockSwitches(snap, p.ID, w)
		score := 1.0
		if expected > 0 {
			score = math.Max(0, 1-float64(switches)/float64(expected))
		}
		sum += score

		// margin() appended persons in roster order.
		if i < len(rep.Persons) {
			rep.Persons[i].Switches = switches
			rep.Persons[i].Continuity = score
		}
		if switches > 0 {
			rep.Recommendations = append(rep.Recommendations, fmt.Sprintf(
				"Align %s's rotation changes with block boundaries (%d mid-block switches)", p.ID, switches))
		}
	}
	return sum / float64(len(snap.Persons))
}

// midBlockSwitches counts rotation changes in w that do not start on a block
// boundary.
func (c *Calculator) midBlockSwitches(snap *types.Snapshot, personID string, w types.Window) int {
	var prev *types.Assignment
	switches := 0
	for _, a := range snap.AssignmentsOf(personID) {
		if !a.Overlaps(w.Start, w.End) {
			continue
		}
		if prev != nil && a.RotationID != prev.RotationID && !c.blocks.IsBoundary(a.Start) {
			switches++
		}
		cur := a
		prev = &cur
	}
	return switches
}

func anyAssignmentIn(snap *types.Snapshot, w types.Window) bool {
	for _, a := range snap.Assignments {
		if a.Overlaps(w.Start, w.End) {
			return true
		}
	}
	return false
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
