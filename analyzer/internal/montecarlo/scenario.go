package montecarlo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotaguard/rotaguard/analyzer/internal/impact"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// Impact scoring constants.
const (
	shortfallWeight = 10.0
	overLimitWeight = 2.0

	// cascadeRotations is the number of simultaneously failing rotations
	// above which the cascade multiplier applies.
	cascadeRotations  = 3
	cascadeMultiplier = 1.5
)

// TrialError attributes a collaborator failure to one scenario. Trial is
// the sampled trial index, or -1 for a targeted combination.
type TrialError struct {
	Trial    int
	PersonID string
	Err      error
}

func (e *TrialError) Error() string {
	if e.Trial < 0 {
		return fmt.Sprintf("montecarlo: targeted search: absorber %s: %v", e.PersonID, e.Err)
	}
	return fmt.Sprintf("montecarlo: trial %d: absorber %s: %v", e.Trial, e.PersonID, e.Err)
}

func (e *TrialError) Unwrap() error { return e.Err }

// evaluator scores one set of simultaneous absences. It is built once per
// run from read-only views and shared by every worker.
type evaluator struct {
	grid     *impact.Grid
	window   *impact.Ledger // hours inside the simulated duration
	trailing *impact.Ledger // hours inside the trailing compliance window
	persons  map[string]types.Person
	ceiling  float64
	check    types.CompliancePredicate
}

func newEvaluator(snap *types.Snapshot, w types.Window, ceiling float64, trailingDays int, check types.CompliancePredicate) *evaluator {
	persons := make(map[string]types.Person, len(snap.Persons))
	for _, p := range snap.Persons {
		persons[p.ID] = p
	}
	return &evaluator{
		grid:     impact.NewGrid(snap, w),
		window:   impact.NewLedger(snap, w),
		trailing: impact.NewLedger(snap, impact.TrailingWindow(w.End, trailingDays)),
		persons:  persons,
		ceiling:  ceiling,
		check:    check,
	}
}

// evaluate returns the scenario for removed. trial is only used to
// attribute errors.
//
//	impact = Σ failing rotations shortfall × daysAffected × 10
//	       + Σ absorber violations hoursOverLimit × 2
//	       × 1.5 when more than 3 rotations fail together
func (e *evaluator) evaluate(trial int, removed []string) (types.Scenario, error) {
	ids := append([]string(nil), removed...)
	sort.Strings(ids)

	sc := types.Scenario{PersonIDs: ids}
	sc.Failures = e.grid.Failures(ids, 0)
	for _, f := range sc.Failures {
		sc.ImpactScore += float64(f.Shortfall*f.DaysAffected) * shortfallWeight
		if !sc.Collapsed || f.DaysAffected < sc.TTF {
			sc.TTF = f.DaysAffected
		}
		sc.Collapsed = true
	}

	if e.check != nil && len(ids) > 0 {
		extra := e.window.Absorb(ids)
		absorbers := make([]string, 0, len(extra))
		for id := range extra {
			absorbers = append(absorbers, id)
		}
		sort.Strings(absorbers)

		for _, id := range absorbers {
			p, ok := e.persons[id]
			if !ok {
				continue
			}
			hours := e.trailing.Hours(id) + extra[id]
			kinds, err := e.check(p, types.Workload{
				Window:     e.trailing.Window(),
				Hours:      hours,
				ExtraHours: extra[id],
			})
			if err != nil {
				return sc, &TrialError{Trial: trial, PersonID: id, Err: err}
			}
			if len(kinds) == 0 {
				continue
			}
			sc.Violations += len(kinds)
			limit := p.MaxHours
			if limit <= 0 {
				limit = e.ceiling
			}
			if over := hours - limit; over > 0 {
				sc.ImpactScore += over * overLimitWeight * float64(len(kinds))
			}
		}
	}

	if len(sc.Failures) > cascadeRotations {
		sc.ImpactScore *= cascadeMultiplier
	}
	return sc, nil
}

// key identifies a scenario for deterministic tie-breaking.
func key(ids []string) string {
	return strings.Join(ids, ",")
}

// worse reports whether a should replace b as the worst case.
func worse(a, b *types.Scenario) bool {
	if b == nil {
		return true
	}
	if a.ImpactScore != b.ImpactScore {
		return a.ImpactScore > b.ImpactScore
	}
	return key(a.PersonIDs) < key(b.PersonIDs)
}
