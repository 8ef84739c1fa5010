package contingency

import (
	"fmt"
	"sort"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/analyzer/internal/impact"
	"github.com/rotaguard/rotaguard/analyzer/internal/recovery"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// PersonError attributes a collaborator failure to the absence being
// analyzed.
type PersonError struct {
	PersonID string
	Err      error
}

func (e *PersonError) Error() string {
	return fmt.Sprintf("contingency: absence of %s: %v", e.PersonID, e.Err)
}

func (e *PersonError) Unwrap() error { return e.Err }

// Analyzer runs N-1 and N-2 contingency analysis over a snapshot.
// It keeps no state between calls and is safe for concurrent use.
type Analyzer struct {
	ceiling      float64
	trailingDays int
	delta        float64

	planner    *recovery.Planner
	strategies []types.Strategy
	check      types.CompliancePredicate
}

// New creates an Analyzer. planner and check may be nil, in which case
// recovery estimates and absorber violations are not computed.
func New(cfg config.AnalysisConfig, planner *recovery.Planner, strategies []types.Strategy, check types.CompliancePredicate) *Analyzer {
	trailing := cfg.TrailingDays
	if trailing <= 0 {
		trailing = config.DefaultTrailingDays
	}
	return &Analyzer{
		ceiling:      cfg.HoursCeiling,
		trailingDays: trailing,
		delta:        cfg.HighImpactDelta,
		planner:      planner,
		strategies:   append([]types.Strategy(nil), strategies...),
		check:        check,
	}
}

// AnalyzeN1 removes each rostered person in turn and classifies the
// absence. Results follow roster order.
//
//	critical     at least one rotation falls below MinStaff
//	high_impact  no coverage failure, but colleagues' mean margin drops by
//	             more than the configured delta once they absorb the hours
//	low_impact   otherwise
func (a *Analyzer) AnalyzeN1(snap *types.Snapshot) ([]types.ContingencyResult, error) {
	w := snap.Window()
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("contingency: %w", err)
	}
	grid := impact.NewGrid(snap, w)
	// Only in-window hours move to colleagues; the trailing ledger carries
	// what they already worked before the window.
	window := impact.NewLedger(snap, w)
	trailing := impact.NewLedger(snap, impact.TrailingWindow(w.End, a.trailingDays))

	results := make([]types.ContingencyResult, 0, len(snap.Persons))
	for _, p := range snap.Persons {
		res, err := a.analyzeOne(snap, grid, window, trailing, p.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *Analyzer) analyzeOne(snap *types.Snapshot, grid *impact.Grid, window, ledger *impact.Ledger, id string) (types.ContingencyResult, error) {
	removed := []string{id}
	res := types.ContingencyResult{PersonID: id, Impact: types.ImpactLow}

	res.Failures = grid.Failures(removed, 0)
	res.ImpactScore = impactScore(res.Failures)
	res.UnderstaffingHours = impact.UnderstaffingHours(res.Failures)

	extra := window.Absorb(removed)
	before := ledger.MeanMargin(snap.Persons, a.ceiling, removed, nil)
	after := ledger.MeanMargin(snap.Persons, a.ceiling, removed, extra)
	res.MarginDelta = before - after

	violations, err := a.absorberViolations(snap, ledger, extra)
	if err != nil {
		return res, &PersonError{PersonID: id, Err: err}
	}
	res.Violations = violations

	switch {
	case len(res.Failures) > 0:
		res.Impact = types.ImpactCritical
	case res.MarginDelta > a.delta:
		res.Impact = types.ImpactHigh
	}

	if worst, ok := impact.Worst(res.Failures); ok && a.planner != nil && len(a.strategies) > 0 {
		plan, err := a.planner.Plan(types.Disruption{
			Description:       fmt.Sprintf("absence of %s", id),
			RotationID:        worst.RotationID,
			PersonIDs:         removed,
			Shortfall:         worst.Shortfall,
			DaysAffected:      worst.DaysAffected,
			ComplianceBlocked: violations > 0,
		}, a.strategies)
		if err != nil {
			return res, &PersonError{PersonID: id, Err: err}
		}
		res.RecoveryEstimate = plan.Selected.EstimatedTime
	}
	return res, nil
}

// absorberViolations asks the compliance predicate about every colleague
// who takes on extra hours and counts the violations reported.
func (a *Analyzer) absorberViolations(snap *types.Snapshot, ledger *impact.Ledger, extra map[string]float64) (int, error) {
	if a.check == nil || len(extra) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(extra))
	for id := range extra {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := 0
	for _, id := range ids {
		p, ok := snap.Person(id)
		if !ok {
			continue
		}
		kinds, err := a.check(p, types.Workload{
			Window:     ledger.Window(),
			Hours:      ledger.Hours(id) + extra[id],
			ExtraHours: extra[id],
		})
		if err != nil {
			return 0, fmt.Errorf("compliance check for absorber %s: %w", id, err)
		}
		total += len(kinds)
	}
	return total, nil
}

// FatalPairs searches every pair drawn from the critical and high-impact
// persons of n1 and returns the pairs whose joint absence fails coverage,
// worst first.
func (a *Analyzer) FatalPairs(snap *types.Snapshot, n1 []types.ContingencyResult) []types.FatalPair {
	critical := make(map[string]bool)
	var candidates []string
	for _, r := range n1 {
		switch r.Impact {
		case types.ImpactCritical:
			critical[r.PersonID] = true
			candidates = append(candidates, r.PersonID)
		case types.ImpactHigh:
			candidates = append(candidates, r.PersonID)
		}
	}
	sort.Strings(candidates)
	if len(candidates) < 2 {
		return nil
	}

	grid := impact.NewGrid(snap, snap.Window())
	var pairs []types.FatalPair
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			first, second := candidates[i], candidates[j]
			failures := grid.Failures([]string{first, second}, 0)
			if len(failures) == 0 {
				continue
			}
			pairs = append(pairs, types.FatalPair{
				First:       first,
				Second:      second,
				ImpactScore: impactScore(failures),
				Failures:    failures,
				Emergent:    !critical[first] && !critical[second],
			})
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].ImpactScore > pairs[j].ImpactScore
	})
	return pairs
}

// AnalyzeN2 runs N-1 to find the candidate set and then the pairwise search.
func (a *Analyzer) AnalyzeN2(snap *types.Snapshot) ([]types.FatalPair, error) {
	n1, err := a.AnalyzeN1(snap)
	if err != nil {
		return nil, err
	}
	return a.FatalPairs(snap, n1), nil
}

// Analyze runs N-1 and N-2 and assembles the vulnerability record. ID and
// Timestamp are left for the caller to stamp.
func (a *Analyzer) Analyze(snap *types.Snapshot) (*types.VulnerabilityRecord, error) {
	n1, err := a.AnalyzeN1(snap)
	if err != nil {
		return nil, err
	}
	pairs := a.FatalPairs(snap, n1)
	criticalIDs := Critical(n1)

	fraction := 0.0
	if len(snap.Persons) > 0 {
		fraction = float64(len(criticalIDs)) / float64(len(snap.Persons))
	}

	return &types.VulnerabilityRecord{
		ScheduleID:          snap.ID,
		N1Pass:              len(criticalIDs) == 0,
		N2Pass:              len(pairs) == 0,
		CriticalPersons:     criticalIDs,
		FatalPairs:          pairs,
		PhaseTransitionRisk: RiskTier(fraction, len(pairs)),
		Results:             n1,
	}, nil
}

// Critical returns the sorted IDs of the critical persons in n1.
func Critical(n1 []types.ContingencyResult) []string {
	out := []string{}
	for _, r := range n1 {
		if r.Impact == types.ImpactCritical {
			out = append(out, r.PersonID)
		}
	}
	sort.Strings(out)
	return out
}

// RiskTier maps the critical fraction of the roster to a phase-transition
// risk tier. Any fatal pair lifts GREEN to YELLOW.
func RiskTier(criticalFraction float64, fatalPairs int) types.Tier {
	switch {
	case criticalFraction > 0.50:
		return types.TierBlack
	case criticalFraction > 0.30:
		return types.TierRed
	case criticalFraction > 0.15:
		return types.TierOrange
	case criticalFraction > 0.05 || fatalPairs > 0:
		return types.TierYellow
	default:
		return types.TierGreen
	}
}

// impactScore sums shortfall × days affected across every failing rotation.
func impactScore(failures []types.RotationFailure) float64 {
	var total float64
	for _, f := range failures {
		total += float64(f.Shortfall * f.DaysAffected)
	}
	return total
}
