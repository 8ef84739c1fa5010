package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// ErrInvalidParams is returned, wrapped, for caller errors detected before
// any sampling starts.
var ErrInvalidParams = errors.New("montecarlo: invalid parameters")

// chunkSize is the number of consecutive trials drawn from one random
// stream. Streams are keyed by (seed, chunk index), never by worker, so the
// outcome of every trial is independent of worker count and scheduling.
const chunkSize = 256

// Params describes one simulation run.
type Params struct {
	Trials       int
	MinFailures  int
	MaxFailures  int
	DurationDays int
	Seed         uint64

	// Critical seeds the targeted worst-case search, normally the critical
	// persons found by N-1 analysis.
	Critical []string
}

// ParamsFromConfig copies the simulation policy into Params.
func ParamsFromConfig(cfg config.SimulationConfig) Params {
	return Params{
		Trials:       cfg.Trials,
		MinFailures:  cfg.MinFailures,
		MaxFailures:  cfg.MaxFailures,
		DurationDays: cfg.DurationDays,
		Seed:         cfg.Seed,
	}
}

// Simulator runs Monte Carlo stress tests. It holds only immutable policy
// and is safe for concurrent use.
type Simulator struct {
	workers         int
	maxCombinations int
	ceiling         float64
	trailingDays    int
	check           types.CompliancePredicate
}

// New creates a Simulator. check may be nil, in which case absorbers are
// never flagged for violations.
func New(sim config.SimulationConfig, analysis config.AnalysisConfig, check types.CompliancePredicate) *Simulator {
	workers := sim.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	maxComb := sim.MaxCombinations
	if maxComb <= 0 {
		maxComb = config.DefaultMaxCombinations
	}
	trailing := analysis.TrailingDays
	if trailing <= 0 {
		trailing = config.DefaultTrailingDays
	}
	ceiling := analysis.HoursCeiling
	if ceiling <= 0 {
		ceiling = config.DefaultHoursCeiling
	}
	return &Simulator{
		workers:         workers,
		maxCombinations: maxComb,
		ceiling:         ceiling,
		trailingDays:    trailing,
		check:           check,
	}
}

// trial is one slot of the per-trial result array. Each slot is written by
// exactly one worker.
type trial struct {
	done     bool
	scenario types.Scenario
}

// Simulate runs p.Trials random absence scenarios over the first
// p.DurationDays of snap, then the targeted worst-case search.
//
// When ctx expires, workers finish the trial in hand and Simulate returns
// the aggregate of the trials that completed with Complete=false. A
// compliance predicate error aborts the run and is returned as a
// *TrialError.
func (s *Simulator) Simulate(ctx context.Context, snap *types.Snapshot, p Params) (*types.SimulationResult, error) {
	roster, err := validate(snap, p)
	if err != nil {
		return nil, err
	}

	w := durationWindow(snap, p.DurationDays)
	ev := newEvaluator(snap, w, s.ceiling, s.trailingDays, s.check)

	start := time.Now()
	trials, err := s.sample(ctx, ev, roster, p)
	if err != nil {
		return nil, err
	}
	res := aggregate(trials, p)

	search, err := s.worstCase(ctx, ev, snap, p)
	if err != nil {
		return nil, err
	}
	res.CombinationsSearched = search.searched
	res.Complete = res.Complete && search.complete
	if search.worst != nil && (res.WorstCase == nil || search.worst.ImpactScore > res.WorstCase.ImpactScore) {
		res.WorstCase = search.worst
	}

	if !res.Complete {
		slog.Warn("montecarlo: deadline reached, returning partial result",
			"schedule", snap.ID, "requested", p.Trials, "completed", res.TrialsCompleted)
	}
	slog.Info("montecarlo: simulation finished",
		"schedule", snap.ID,
		"trials", res.TrialsCompleted,
		"collapse_probability", res.CollapseProbability,
		"combinations", search.searched,
		"elapsed", time.Since(start))
	return res, nil
}

// validate rejects caller errors before any work starts and returns the
// sorted roster to sample from.
func validate(snap *types.Snapshot, p Params) ([]string, error) {
	if err := snap.Window().Validate(); err != nil {
		return nil, fmt.Errorf("montecarlo: %w", err)
	}
	switch {
	case p.Trials <= 0:
		return nil, fmt.Errorf("%w: trials must be positive, got %d", ErrInvalidParams, p.Trials)
	case p.MinFailures < 0:
		return nil, fmt.Errorf("%w: min failures must not be negative, got %d", ErrInvalidParams, p.MinFailures)
	case p.MinFailures > p.MaxFailures:
		return nil, fmt.Errorf("%w: min failures %d exceeds max failures %d", ErrInvalidParams, p.MinFailures, p.MaxFailures)
	case p.DurationDays <= 0:
		return nil, fmt.Errorf("%w: duration must be positive, got %d days", ErrInvalidParams, p.DurationDays)
	}

	roster := make([]string, 0, len(snap.Persons))
	seen := make(map[string]bool, len(snap.Persons))
	for _, person := range snap.Persons {
		if !seen[person.ID] {
			seen[person.ID] = true
			roster = append(roster, person.ID)
		}
	}
	if len(roster) < p.MaxFailures {
		return nil, fmt.Errorf("%w: roster of %d cannot supply %d distinct absences",
			ErrInvalidParams, len(roster), p.MaxFailures)
	}
	sort.Strings(roster)
	return roster, nil
}

// durationWindow is the first days days of the snapshot, clipped to its end.
func durationWindow(snap *types.Snapshot, days int) types.Window {
	end := snap.Start.Add(time.Duration(days) * types.Day)
	if end.After(snap.End) {
		end = snap.End
	}
	return types.Window{Start: snap.Start, End: end}
}

// sample runs the random trials on s.workers goroutines.
func (s *Simulator) sample(ctx context.Context, ev *evaluator, roster []string, p Params) ([]trial, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trials := make([]trial, p.Trials)
	chunks := (p.Trials + chunkSize - 1) / chunkSize

	var (
		next     atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perm := make([]string, len(roster))
			for {
				c := int(next.Add(1) - 1)
				if c >= chunks {
					return
				}
				rng := rand.New(rand.NewPCG(p.Seed, uint64(c)))
				lo := c * chunkSize
				hi := min(lo+chunkSize, p.Trials)
				for t := lo; t < hi; t++ {
					if ctx.Err() != nil {
						return
					}
					removed := draw(rng, roster, perm, p.MinFailures, p.MaxFailures)
					sc, err := ev.evaluate(t, removed)
					if err != nil {
						errOnce.Do(func() {
							firstErr = err
							cancel()
						})
						return
					}
					sc.Source = "sampled"
					trials[t] = trial{done: true, scenario: sc}
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return trials, nil
}

// draw picks the absent set for one trial. It always consumes the same
// number of random values: u for the failure count, then a full
// Fisher-Yates shuffle of the roster. The absent set is a prefix of the
// shuffle, so for a fixed stream a larger maximum only ever adds absences.
func draw(rng *rand.Rand, roster, perm []string, minFailures, maxFailures int) []string {
	u := rng.Float64()
	copy(perm, roster)
	for i := len(perm) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	k := minFailures + int(u*float64(maxFailures-minFailures+1))
	if k > maxFailures {
		k = maxFailures
	}
	return append([]string(nil), perm[:k]...)
}
