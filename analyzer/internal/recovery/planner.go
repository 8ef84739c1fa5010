package recovery

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// ErrNoStrategies is returned when Plan is given nothing to choose from.
var ErrNoStrategies = errors.New("recovery: no strategies supplied")

// stageOrder breaks bottleneck ties and fixes the reporting order.
var stageOrder = []types.Stage{
	types.StageNotification,
	types.StageCredentialing,
	types.StageOrientation,
	types.StageComplianceBlocked,
}

// Planner ranks mitigation strategies against a disruption.
// It is stateless apart from its policy and safe for concurrent use.
type Planner struct {
	floor float64
}

// New creates a Planner from the recovery policy. A zero floor means the
// default of 0.90.
func New(cfg config.RecoveryConfig) *Planner {
	floor := cfg.SuccessFloor
	if floor <= 0 {
		floor = config.DefaultSuccessFloor
	}
	return &Planner{floor: floor}
}

// Floor returns the success probability a strategy must meet.
func (p *Planner) Floor() float64 { return p.floor }

// Plan scores every strategy against d and selects the fastest one whose
// success probability meets the floor, breaking ties by cost. When none
// meets the floor the most reliable strategy is returned as a best effort
// with InfeasibleWithinFloor set.
func (p *Planner) Plan(d types.Disruption, strategies []types.Strategy) (*types.RecoveryPlan, error) {
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if d.Shortfall < 0 || d.DaysAffected < 0 {
		return nil, fmt.Errorf("recovery: disruption %q has negative shortfall or duration", d.Description)
	}

	ranked := make([]types.StrategyEstimate, 0, len(strategies))
	for _, s := range strategies {
		est, err := p.Estimate(d, s)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, est)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })

	plan := &types.RecoveryPlan{
		Disruption:            d,
		Ranked:                ranked,
		Selected:              ranked[0],
		InfeasibleWithinFloor: !ranked[0].MeetsFloor,
	}
	plan.Bottleneck, plan.BottleneckShare = bottleneck(plan.Selected)
	return plan, nil
}

// Estimate computes the time, cost and success probability of s against d.
//
//	time = notification + credentialing + orientation (+ compliance hold)
//
// Credentialing is zero for internal and cross-training strategies; the
// compliance hold only applies to strategies that redistribute hours while
// the disruption is compliance-blocked.
func (p *Planner) Estimate(d types.Disruption, s types.Strategy) (types.StrategyEstimate, error) {
	if s.NotificationTime < 0 || s.CredentialingTime < 0 || s.OrientationTime < 0 ||
		s.ComplianceHold < 0 || s.Stats.AvgDuration < 0 {
		return types.StrategyEstimate{}, fmt.Errorf("recovery: strategy %q has a negative stage time", s.Name)
	}
	rate := s.Stats.SuccessRate
	if rate < 0 || rate > 1 {
		return types.StrategyEstimate{}, fmt.Errorf("recovery: strategy %q success rate %g is out of range [0, 1]", s.Name, rate)
	}

	stages := make(map[types.Stage]time.Duration)
	var total time.Duration
	if untimed(s) {
		// No stage breakdown: the historical average stands in for it.
		total = s.Stats.AvgDuration
	} else {
		stages[types.StageNotification] = s.NotificationTime
		stages[types.StageOrientation] = s.OrientationTime
		if needsCredentialing(s.Kind) {
			stages[types.StageCredentialing] = s.CredentialingTime
		}
	}
	if d.ComplianceBlocked && redistributes(s.Kind) {
		stages[types.StageComplianceBlocked] = s.ComplianceHold
	}
	for _, v := range stages {
		total += v
	}

	people := d.Shortfall
	if people < 1 {
		people = 1
	}

	return types.StrategyEstimate{
		Strategy:           s,
		EstimatedTime:      total,
		Cost:               s.Stats.AvgCost * float64(people),
		SuccessProbability: rate,
		MeetsFloor:         rate >= p.floor,
		Stages:             stages,
	}, nil
}

// better orders estimates: floor-meeting first, then by time and cost;
// below-floor ones by reliability, then time and cost.
func better(a, b types.StrategyEstimate) bool {
	if a.MeetsFloor != b.MeetsFloor {
		return a.MeetsFloor
	}
	if !a.MeetsFloor && a.SuccessProbability != b.SuccessProbability {
		return a.SuccessProbability > b.SuccessProbability
	}
	if a.EstimatedTime != b.EstimatedTime {
		return a.EstimatedTime < b.EstimatedTime
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.Strategy.Name < b.Strategy.Name
}

// untimed reports whether s carries no stage timings but does have an
// average duration on record.
func untimed(s types.Strategy) bool {
	return s.NotificationTime == 0 && s.CredentialingTime == 0 && s.OrientationTime == 0 &&
		s.Stats.AvgDuration > 0
}

// bottleneck returns the stage with the largest share of e's time, or no
// stage when e has no breakdown.
func bottleneck(e types.StrategyEstimate) (types.Stage, float64) {
	if e.EstimatedTime <= 0 || len(e.Stages) == 0 {
		return "", 0
	}
	var worst types.Stage
	var worstDur time.Duration = -1
	for _, st := range stageOrder {
		if d, ok := e.Stages[st]; ok && d > worstDur {
			worst, worstDur = st, d
		}
	}
	return worst, float64(worstDur) / float64(e.EstimatedTime)
}

func needsCredentialing(k types.StrategyKind) bool {
	return k != types.StrategyInternal && k != types.StrategyCrossTrained
}

func redistributes(k types.StrategyKind) bool {
	return k == types.StrategyInternal || k == types.StrategyHybrid
}

// Hours converts a recovery estimate to fractional hours for reporting.
func Hours(d time.Duration) float64 {
	return d.Hours()
}
