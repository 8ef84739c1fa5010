package montecarlo

import (
	"sort"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// aggregate folds the completed trials into a SimulationResult. Slots that
// never ran are skipped, so a cut-short run reports what it actually did.
func aggregate(trials []trial, p Params) *types.SimulationResult {
	res := &types.SimulationResult{
		Seed:            p.Seed,
		TrialsRequested: p.Trials,
	}

	var ttfs []int
	failCount := make(map[string]int)
	for i := range trials {
		t := &trials[i]
		if !t.done {
			continue
		}
		res.TrialsCompleted++
		sc := t.scenario
		if sc.Collapsed {
			res.Collapses++
			ttfs = append(ttfs, sc.TTF)
		}
		for _, f := range sc.Failures {
			failCount[f.RotationID]++
		}
		if worse(&sc, res.WorstCase) {
			worst := sc
			res.WorstCase = &worst
		}
	}
	res.Complete = res.TrialsCompleted == res.TrialsRequested
	if res.TrialsCompleted == 0 {
		return res
	}

	n := float64(res.TrialsCompleted)
	res.CollapseProbability = float64(res.Collapses) / n

	if len(ttfs) > 0 {
		sort.Ints(ttfs)
		median := percentile(ttfs, 0.50)
		p95 := percentile(ttfs, 0.95)
		res.MedianTTF = &median
		res.P95TTF = &p95
	}

	for id, count := range failCount {
		prob := float64(count) / n
		res.FragileRotations = append(res.FragileRotations, types.RotationFragility{
			RotationID:         id,
			FailureCount:       count,
			FailureProbability: prob,
			Severity:           severity(prob),
		})
	}
	sort.Slice(res.FragileRotations, func(i, j int) bool {
		a, b := res.FragileRotations[i], res.FragileRotations[j]
		if a.FailureCount != b.FailureCount {
			return a.FailureCount > b.FailureCount
		}
		return a.RotationID < b.RotationID
	})
	return res
}

// percentile returns the nearest-rank q-quantile of a sorted, non-empty
// slice.
func percentile(sorted []int, q float64) float64 {
	i := int(float64(len(sorted)) * q)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return float64(sorted[i])
}

// severity tiers a rotation's failure probability.
func severity(prob float64) types.Severity {
	switch {
	case prob > 0.50:
		return types.SeverityCritical
	case prob > 0.25:
		return types.SeverityHigh
	case prob > 0.10:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
