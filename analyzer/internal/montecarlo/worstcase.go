package montecarlo

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// searchResult is the outcome of the targeted worst-case search.
type searchResult struct {
	worst    *types.Scenario
	searched int
	complete bool
}

// worstCase evaluates targeted combinations (see candidates) and keeps the
// highest-impact scenario.
func (s *Simulator) worstCase(ctx context.Context, ev *evaluator, snap *types.Snapshot, p Params) (searchResult, error) {
	candidates := s.candidates(snap, p)
	if len(candidates) == 0 {
		return searchResult{complete: true}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]*types.Scenario, len(candidates))
	var (
		next     atomic.Int64
		searched atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	workers := min(s.workers, len(candidates))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c := int(next.Add(1) - 1)
				if c >= len(candidates) || ctx.Err() != nil {
					return
				}
				sc, err := ev.evaluate(-1, candidates[c])
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				sc.Source = "targeted"
				slots[c] = &sc
				searched.Add(1)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return searchResult{}, firstErr
	}

	res := searchResult{searched: int(searched.Load())}
	res.complete = res.searched == len(candidates)
	for _, sc := range slots {
		if sc != nil && worse(sc, res.worst) {
			res.worst = sc
		}
	}
	return res, nil
}

// candidates lists the combinations to search, deduplicated and capped at
// s.maxCombinations. For each size k from 2 to p.MaxFailures it takes every
// k-subset of the critical persons, then every k-subset within each
// seniority tier, so a pair that is only fatal together is found even when
// neither member is critical alone. A lone critical person is searched on
// their own.
func (s *Simulator) candidates(snap *types.Snapshot, p Params) [][]string {
	onRoster := make(map[string]bool, len(snap.Persons))
	for _, person := range snap.Persons {
		onRoster[person.ID] = true
	}
	var critical []string
	seen := make(map[string]bool)
	for _, id := range p.Critical {
		if onRoster[id] && !seen[id] {
			seen[id] = true
			critical = append(critical, id)
		}
	}
	sort.Strings(critical)

	groups := make(map[string][]string)
	for _, person := range snap.Persons {
		if person.Tier != "" {
			groups[person.Tier] = append(groups[person.Tier], person.ID)
		}
	}
	tiers := make([]string, 0, len(groups))
	for tier, ids := range groups {
		sort.Strings(ids)
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	var out [][]string
	added := make(map[string]bool)
	add := func(ids []string) bool {
		if len(out) >= s.maxCombinations {
			return false
		}
		k := key(ids)
		if !added[k] {
			added[k] = true
			out = append(out, ids)
		}
		return true
	}

	if len(critical) == 1 && !add([]string{critical[0]}) {
		return out
	}
	for k := 2; k <= p.MaxFailures; k++ {
		if !combinations(critical, k, add) {
			return out
		}
		for _, tier := range tiers {
			if !combinations(groups[tier], k, add) {
				return out
			}
		}
	}
	return out
}

// combinations calls fn with every k-subset of ids in lexicographic index
// order. It stops and returns false as soon as fn does.
func combinations(ids []string, k int, fn func([]string) bool) bool {
	if k <= 0 || k > len(ids) {
		return true
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := make([]string, k)
		for i, j := range idx {
			combo[i] = ids[j]
		}
		if !fn(combo) {
			return false
		}
		// Advance the rightmost index that still has room.
		i := k - 1
		for i >= 0 && idx[i] == len(ids)-k+i {
			i--
		}
		if i < 0 {
			return true
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
