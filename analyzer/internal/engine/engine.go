package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/analyzer/internal/contingency"
	"github.com/rotaguard/rotaguard/analyzer/internal/health"
	"github.com/rotaguard/rotaguard/analyzer/internal/impact"
	"github.com/rotaguard/rotaguard/analyzer/internal/montecarlo"
	"github.com/rotaguard/rotaguard/analyzer/internal/recovery"
	"github.com/rotaguard/rotaguard/analyzer/internal/snapshot"
	"github.com/rotaguard/rotaguard/analyzer/internal/thresholds"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// Engine runs the analysis pipeline for one schedule window:
//
//	snapshot -> health -> (N-1/N-2 -> simulation -> recovery) -> thresholds
//
// The bracketed stages only run when the health score is below the target
// or the policy asks for them on every run.
//
// All components are built once from the policy and are safe for
// concurrent use, so one Engine may serve several schedules.
type Engine struct {
	source      snapshot.Accessor
	health      *health.Calculator
	contingency *contingency.Analyzer
	simulator   *montecarlo.Simulator
	planner     *recovery.Planner
	thresholds  *thresholds.Evaluator

	strategies []types.Strategy
	target     float64
	alwaysDeep bool
	simParams  montecarlo.Params
	simTimeout time.Duration
	lookback   int // trailing compliance days fetched before the window

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New wires an Engine from cfg. check may be nil; absorbers are then never
// flagged for violations.
func New(cfg *config.Config, source snapshot.Accessor, check types.CompliancePredicate) (*Engine, error) {
	calc, err := health.New(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	eval, err := thresholds.New(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	strategies := cfg.Recovery.Strategies
	if len(strategies) == 0 {
		strategies = config.DefaultStrategies()
	}
	planner := recovery.New(cfg.Recovery)
	lookback := cfg.Analysis.TrailingDays
	if lookback <= 0 {
		lookback = config.DefaultTrailingDays
	}

	return &Engine{
		source:      source,
		health:      calc,
		contingency: contingency.New(cfg.Analysis, planner, strategies, check),
		simulator:   montecarlo.New(cfg.Simulation, cfg.Analysis, check),
		planner:     planner,
		thresholds:  eval,

		strategies: strategies,
		target:     cfg.Analysis.HealthTarget,
		alwaysDeep: cfg.Analysis.AlwaysDeep,
		simParams:  montecarlo.ParamsFromConfig(cfg.Simulation),
		simTimeout: cfg.Simulation.Timeout,
		lookback:   lookback,

		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// Run fetches the snapshot for w and runs the pipeline over it. The fetch
// reaches back over the trailing compliance window so hours worked before
// w.Start still count toward each person's margin; the analysis window
// itself stays w.
func (e *Engine) Run(ctx context.Context, w types.Window) (*types.Report, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	from := w.Start
	if h := impact.TrailingWindow(w.End, e.lookback).Start; h.Before(from) {
		from = h
	}
	snap, err := e.source.Snapshot(ctx, from, w.End)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch snapshot: %w", err)
	}
	view := *snap
	view.Start = w.Start
	return e.Analyze(ctx, &view)
}

// Analyze runs the pipeline over an already fetched snapshot.
func (e *Engine) Analyze(ctx context.Context, snap *types.Snapshot) (*types.Report, error) {
	now := e.now()
	w := snap.Window()

	hr, err := e.health.Compute(snap, w)
	if err != nil {
		return nil, fmt.Errorf("engine: schedule %s: %w", snap.ID, err)
	}

	rep := &types.Report{
		ScheduleID:  snap.ID,
		Window:      w,
		GeneratedAt: now,
		Health: types.HealthCheckRecord{
			ID:              e.newID(),
			ScheduleID:      snap.ID,
			Timestamp:       now,
			Coverage:        hr.Coverage,
			Margin:          hr.Margin,
			Continuity:      hr.Continuity,
			Score:           hr.Score,
			Warnings:        hr.Warnings,
			Recommendations: hr.Recommendations,
		},
	}
	metrics := map[string]float64{
		thresholds.MetricHealthScore: hr.Score,
		thresholds.MetricCoverage:    hr.Coverage,
		thresholds.MetricMargin:      hr.Margin,
		thresholds.MetricContinuity:  hr.Continuity,
	}

	if e.alwaysDeep || hr.Score < e.target {
		if err := e.deep(ctx, snap, rep, metrics, now); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("engine: health on target, skipping deep analysis",
			"schedule", snap.ID, "score", hr.Score, "target", e.target)
	}

	evals, overall, events := e.thresholds.Evaluate(snap.ID, metrics)
	rep.Evaluations = evals
	rep.Status = overall
	rep.Health.Status = overall
	rep.Events = events

	slog.Info("engine: analysis complete",
		"schedule", snap.ID,
		"score", hr.Score,
		"status", overall,
		"events", len(events))
	return rep, nil
}

// deep runs contingency analysis, simulation and recovery planning and adds
// their records and metrics to rep.
func (e *Engine) deep(ctx context.Context, snap *types.Snapshot, rep *types.Report, metrics map[string]float64, now time.Time) error {
	vuln, err := e.contingency.Analyze(snap)
	if err != nil {
		return fmt.Errorf("engine: schedule %s: contingency: %w", snap.ID, err)
	}
	vuln.ID = e.newID()
	vuln.Timestamp = now
	rep.Vulnerability = vuln

	fraction := 0.0
	if len(snap.Persons) > 0 {
		fraction = float64(len(vuln.CriticalPersons)) / float64(len(snap.Persons))
	}
	metrics[thresholds.MetricCriticalFraction] = fraction
	metrics[thresholds.MetricFatalPairs] = float64(len(vuln.FatalPairs))

	if p, ok := e.params(snap, vuln.CriticalPersons); ok {
		simCtx := ctx
		if e.simTimeout > 0 {
			var cancel context.CancelFunc
			simCtx, cancel = context.WithTimeout(ctx, e.simTimeout)
			defer cancel()
		}
		res, err := e.simulator.Simulate(simCtx, snap, p)
		if err != nil {
			return fmt.Errorf("engine: schedule %s: simulation: %w", snap.ID, err)
		}
		rep.Simulation = &types.SimulationRecord{
			ID:         e.newID(),
			ScheduleID: snap.ID,
			Timestamp:  now,
			Result:     *res,
		}
		metrics[thresholds.MetricCollapseProbability] = res.CollapseProbability
	}

	d, ok := worstDisruption(rep)
	if !ok {
		return nil
	}
	plan, err := e.planner.Plan(d, e.strategies)
	if err != nil {
		return fmt.Errorf("engine: schedule %s: recovery: %w", snap.ID, err)
	}
	rep.Recovery = plan
	metrics[thresholds.MetricRecoveryHours] = recovery.Hours(plan.Selected.EstimatedTime)
	return nil
}

// params fits the simulation policy to the roster. Failure counts are
// clamped to the roster size; an empty roster skips simulation.
func (e *Engine) params(snap *types.Snapshot, critical []string) (montecarlo.Params, bool) {
	p := e.simParams
	n := len(snap.Persons)
	if n == 0 || p.Trials <= 0 {
		return p, false
	}
	if p.MaxFailures > n {
		p.MaxFailures = n
	}
	if p.MinFailures > p.MaxFailures {
		p.MinFailures = p.MaxFailures
	}
	if days := snap.Window().Days(); p.DurationDays > days {
		p.DurationDays = days
	}
	if p.DurationDays <= 0 {
		return p, false
	}
	p.Critical = critical
	return p, true
}

// worstDisruption picks the disruption to plan recovery for: the
// simulation's worst collapsing scenario, or failing that the highest
// impact N-1 absence.
func worstDisruption(rep *types.Report) (types.Disruption, bool) {
	if rep.Simulation != nil {
		if wc := rep.Simulation.Result.WorstCase; wc != nil && wc.Collapsed {
			if f, ok := impact.Worst(wc.Failures); ok {
				return types.Disruption{
					Description:       fmt.Sprintf("worst-case absence of %d people", len(wc.PersonIDs)),
					RotationID:        f.RotationID,
					PersonIDs:         wc.PersonIDs,
					Shortfall:         f.Shortfall,
					DaysAffected:      f.DaysAffected,
					ComplianceBlocked: wc.Violations > 0,
				}, true
			}
		}
	}
	if rep.Vulnerability == nil {
		return types.Disruption{}, false
	}
	var worst *types.ContingencyResult
	for i := range rep.Vulnerability.Results {
		r := &rep.Vulnerability.Results[i]
		if len(r.Failures) == 0 {
			continue
		}
		if worst == nil || r.ImpactScore > worst.ImpactScore {
			worst = r
		}
	}
	if worst == nil {
		return types.Disruption{}, false
	}
	f, _ := impact.Worst(worst.Failures)
	return types.Disruption{
		Description:       "absence of " + worst.PersonID,
		RotationID:        f.RotationID,
		PersonIDs:         []string{worst.PersonID},
		Shortfall:         f.Shortfall,
		DaysAffected:      f.DaysAffected,
		ComplianceBlocked: worst.Violations > 0,
	}, true
}
