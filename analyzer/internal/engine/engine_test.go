package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/analyzer/internal/contingency"
	"github.com/rotaguard/rotaguard/analyzer/internal/schedtest"
	"github.com/rotaguard/rotaguard/analyzer/internal/snapshot"
	"github.com/rotaguard/rotaguard/analyzer/internal/thresholds"
	"github.com/rotaguard/rotaguard/pkg/types"
)

var fixedNow = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)

func testConfig(deep bool) *config.Config {
	cfg := config.Defaults()
	cfg.Analysis.AlwaysDeep = deep
	cfg.Simulation.Trials = 512
	cfg.Simulation.Workers = 2
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, snap *types.Snapshot, check types.CompliancePredicate) *Engine {
	t.Helper()
	e, err := New(cfg, snapshot.Static{Snap: snap}, check)
	require.NoError(t, err)
	e.now = func() time.Time { return fixedNow }
	n := 0
	e.newID = func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
	return e
}

func metric(evals []types.Evaluation, name string) (types.Evaluation, bool) {
	for _, ev := range evals {
		if ev.Metric == name {
			return ev, true
		}
	}
	return types.Evaluation{}, false
}

func TestAnalyze_HealthyScheduleSkipsDeepStages(t *testing.T) {
	// Coverage 1, margin 0.65, continuity 1: score 0.895 is above the 0.80 target.
	snap := schedtest.Team(5, 2, 14)
	e := newEngine(t, testConfig(false), snap, nil)

	rep, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)

	assert.InDelta(t, 0.895, rep.Health.Score, 1e-9)
	assert.Nil(t, rep.Vulnerability)
	assert.Nil(t, rep.Simulation)
	assert.Nil(t, rep.Recovery)
	assert.Equal(t, types.TierGreen, rep.Status)
	assert.Equal(t, types.TierGreen, rep.Health.Status)
	assert.Empty(t, rep.Events, "all-green first run starts from the GREEN baseline")

	_, ok := metric(rep.Evaluations, thresholds.MetricCollapseProbability)
	assert.False(t, ok, "collapse probability is only evaluated after a simulation")
}

func TestAnalyze_DeepPipeline(t *testing.T) {
	snap := schedtest.Team(2, 2, 14)
	e := newEngine(t, testConfig(true), snap, nil)

	rep, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, "team", rep.ScheduleID)
	assert.Equal(t, fixedNow, rep.GeneratedAt)

	require.NotNil(t, rep.Vulnerability)
	assert.Equal(t, []string{"p1", "p2"}, rep.Vulnerability.CriticalPersons)
	assert.Equal(t, types.TierBlack, rep.Vulnerability.PhaseTransitionRisk)
	assert.Equal(t, fixedNow, rep.Vulnerability.Timestamp)

	require.NotNil(t, rep.Simulation)
	res := rep.Simulation.Result
	assert.True(t, res.Complete)
	assert.Equal(t, 512, res.TrialsCompleted)
	assert.Equal(t, 1.0, res.CollapseProbability, "every absence on an exactly staffed rotation collapses it")
	require.NotNil(t, res.WorstCase)
	assert.Equal(t, []string{"p1", "p2"}, res.WorstCase.PersonIDs)

	require.NotNil(t, rep.Recovery)
	assert.Equal(t, 2, rep.Recovery.Disruption.Shortfall)
	assert.Equal(t, 14, rep.Recovery.Disruption.DaysAffected)
	assert.Equal(t, types.StrategyInternal, rep.Recovery.Selected.Strategy.Kind)
	assert.False(t, rep.Recovery.InfeasibleWithinFloor)

	hours, ok := metric(rep.Evaluations, thresholds.MetricRecoveryHours)
	require.True(t, ok)
	assert.Equal(t, 2.0, hours.Value)

	frac, ok := metric(rep.Evaluations, thresholds.MetricCriticalFraction)
	require.True(t, ok)
	assert.Equal(t, types.TierBlack, frac.Tier)
	assert.Equal(t, types.TierBlack, rep.Status)
	assert.NotEmpty(t, rep.Events)

	ids := map[string]bool{rep.Health.ID: true, rep.Vulnerability.ID: true, rep.Simulation.ID: true}
	assert.Len(t, ids, 3, "each record gets its own ID")
}

func TestAnalyze_RecoveryFallsBackToN1WithoutSimulation(t *testing.T) {
	cfg := testConfig(true)
	cfg.Simulation.Trials = 0
	snap := schedtest.Team(2, 2, 14)
	e := newEngine(t, cfg, snap, nil)

	rep, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)

	assert.Nil(t, rep.Simulation)
	require.NotNil(t, rep.Recovery)
	assert.Equal(t, []string{"p1"}, rep.Recovery.Disruption.PersonIDs)
	assert.Equal(t, 1, rep.Recovery.Disruption.Shortfall)
}

func TestAnalyze_NoFailuresNoRecoveryPlan(t *testing.T) {
	snap := schedtest.Team(6, 1, 14)
	cfg := testConfig(true)
	cfg.Simulation.MaxFailures = 2
	e := newEngine(t, cfg, snap, nil)

	rep, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)

	require.NotNil(t, rep.Simulation)
	assert.Zero(t, rep.Simulation.Result.Collapses)
	assert.Nil(t, rep.Recovery)
	_, ok := metric(rep.Evaluations, thresholds.MetricRecoveryHours)
	assert.False(t, ok)
}

func TestAnalyze_SmallRosterClampsFailureRange(t *testing.T) {
	// Default max failures is 3, but only two people can be absent.
	snap := schedtest.Team(2, 1, 14)
	e := newEngine(t, testConfig(true), snap, nil)

	rep, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)
	require.NotNil(t, rep.Simulation)
	assert.Equal(t, 512, rep.Simulation.Result.TrialsCompleted)
}

func TestAnalyze_PredicateErrorPropagates(t *testing.T) {
	boom := errors.New("validator unavailable")
	check := func(types.Person, types.Workload) ([]types.ViolationKind, error) {
		return nil, boom
	}
	snap := schedtest.Team(3, 2, 14)
	e := newEngine(t, testConfig(true), snap, check)

	_, err := e.Analyze(context.Background(), snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var pe *contingency.PersonError
	assert.ErrorAs(t, err, &pe)
}

func TestAnalyze_EventsOnlyOnTransition(t *testing.T) {
	snap := schedtest.Team(2, 2, 14)
	e := newEngine(t, testConfig(true), snap, nil)

	first, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)
	require.NotEmpty(t, first.Events)

	second, err := e.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, second.Events, "an unchanged schedule crosses no boundary")
	assert.Equal(t, first.Status, second.Status)
}

func TestRun_FetchesAndClipsSnapshot(t *testing.T) {
	snap := schedtest.Team(5, 2, 28)
	e := newEngine(t, testConfig(false), snap, nil)

	w := types.Window{Start: schedtest.Day(0), End: schedtest.Day(14)}
	rep, err := e.Run(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, w, rep.Window)
}

func TestRun_TrailingHoursBeforeWindowCount(t *testing.T) {
	// 300h in the two weeks before the window plus 100h inside it breaks
	// the 320h ceiling over the trailing 28 days.
	snap := schedtest.New("s", 28).
		Rotation("ward", 1).
		Person("a", "PGY1").
		Assign("a", "ward", 0, 14, 300).
		Assign("a", "ward", 14, 28, 100).
		Snapshot()
	cfg := testConfig(false)
	cfg.Simulation.Trials = 0
	e := newEngine(t, cfg, snap, nil)

	w := types.Window{Start: schedtest.Day(14), End: schedtest.Day(28)}
	rep, err := e.Run(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, w, rep.Window)
	assert.Zero(t, rep.Health.Margin)
	warnings := strings.Join(rep.Health.Warnings, "\n")
	assert.Contains(t, warnings, "a worked 400.0h")
	assert.Contains(t, warnings, "80.0h over the 320h ceiling")
}

func TestRun_Errors(t *testing.T) {
	snap := schedtest.Team(2, 2, 14)
	e := newEngine(t, testConfig(false), snap, nil)

	_, err := e.Run(context.Background(), types.Window{Start: schedtest.Day(5), End: schedtest.Day(1)})
	assert.ErrorIs(t, err, types.ErrInvalidWindow)

	e.source = snapshot.Static{}
	_, err = e.Run(context.Background(), snap.Window())
	assert.ErrorIs(t, err, snapshot.ErrMalformed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.source = snapshot.Static{Snap: snap}
	_, err = e.Run(ctx, snap.Window())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RejectsBadPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Analysis.Weights.Coverage = 0.9
	_, err := New(cfg, snapshot.Static{}, nil)
	assert.Error(t, err)

	cfg = config.Defaults()
	cfg.Thresholds.Rules = append(cfg.Thresholds.Rules, config.ThresholdRule{Metric: "coverage", Op: "<"})
	_, err = New(cfg, snapshot.Static{}, nil)
	assert.Error(t, err)
}
