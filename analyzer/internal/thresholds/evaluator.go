package thresholds

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/pkg/types"
)

const maxHistoryLen = 200

// worstFirst is the order tiers are tested in; the first bound a value
// crosses decides its tier.
var worstFirst = []types.Tier{types.TierBlack, types.TierRed, types.TierOrange, types.TierYellow}

// DefaultActions are used for tiers a rule gives no action for.
var DefaultActions = map[types.Tier]string{
	types.TierGreen:  "no action required",
	types.TierYellow: "review the schedule and confirm backup coverage",
	types.TierOrange: "activate the contingency plan for affected rotations",
	types.TierRed:    "escalate to program leadership and start recovery",
	types.TierBlack:  "declare a staffing emergency",
}

// Evaluator maps metrics to status tiers and remembers the last tier per
// (scope, metric) so it can report transitions.
//
// Evaluator is safe for concurrent use.
type Evaluator struct {
	rules map[string]config.ThresholdRule
	order []string

	now   func() time.Time // injectable for deterministic tests
	newID func() string

	mu      sync.Mutex
	last    map[string]types.Tier // key: "scope:metric"
	history []types.EventRecord
}

// New builds an Evaluator from the threshold table. A metric may appear in
// at most one rule.
func New(cfg config.ThresholdsConfig) (*Evaluator, error) {
	e := &Evaluator{
		rules: make(map[string]config.ThresholdRule, len(cfg.Rules)),
		now:   time.Now,
		newID: uuid.NewString,
		last:  make(map[string]types.Tier),
	}
	for _, r := range cfg.Rules {
		if !validOp(r.Op) {
			return nil, fmt.Errorf("thresholds: metric %q: unknown op %q", r.Metric, r.Op)
		}
		if _, dup := e.rules[r.Metric]; dup {
			return nil, fmt.Errorf("thresholds: metric %q has more than one rule", r.Metric)
		}
		e.rules[r.Metric] = r
		e.order = append(e.order, r.Metric)
	}
	return e, nil
}

// Tier evaluates one metric. It returns false when no rule covers metric.
func (e *Evaluator) Tier(metric string, value float64) (types.Evaluation, bool) {
	r, ok := e.rules[metric]
	if !ok {
		return types.Evaluation{}, false
	}
	tier := types.TierGreen
	for _, t := range worstFirst {
		bound, ok := r.Tiers[t]
		if ok && compareFloat(value, r.Op, bound) {
			tier = t
			break
		}
	}
	return types.Evaluation{
		Metric: metric,
		Value:  value,
		Tier:   tier,
		Action: action(r, tier),
	}, true
}

// Evaluate tiers every metric that has a rule, in rule order, and derives
// the overall tier as the worst of them. An EventRecord is returned for
// every (scope, metric) whose tier differs from the previous evaluation; a
// scope seen for the first time starts from GREEN.
func (e *Evaluator) Evaluate(scope string, metrics map[string]float64) ([]types.Evaluation, types.Tier, []types.EventRecord) {
	var evals []types.Evaluation
	overall := types.TierGreen
	for _, metric := range e.order {
		v, ok := metrics[metric]
		if !ok {
			continue
		}
		ev, _ := e.Tier(metric, v)
		evals = append(evals, ev)
		if ev.Tier.Rank() > overall.Rank() {
			overall = ev.Tier
		}
	}

	now := e.now()
	e.mu.Lock()
	var events []types.EventRecord
	for _, ev := range evals {
		if rec, ok := e.transition(scope, ev, now); ok {
			events = append(events, rec)
		}
	}
	overallEval := types.Evaluation{
		Metric: MetricOverall,
		Value:  float64(overall.Rank()),
		Tier:   overall,
		Action: DefaultActions[overall],
	}
	if rec, ok := e.transition(scope, overallEval, now); ok {
		events = append(events, rec)
	}
	e.history = append(e.history, events...)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	e.mu.Unlock()

	for _, rec := range events {
		if rec.Escalated() {
			slog.Warn("thresholds: tier escalated",
				"scope", scope, "metric", rec.Metric, "value", rec.Value,
				"from", rec.Previous, "to", rec.Current)
		} else {
			slog.Info("thresholds: tier recovered",
				"scope", scope, "metric", rec.Metric, "from", rec.Previous, "to", rec.Current)
		}
	}
	return evals, overall, events
}

// transition records ev as the latest tier for (scope, metric) and returns
// an event if it changed. Callers must hold e.mu.
func (e *Evaluator) transition(scope string, ev types.Evaluation, now time.Time) (types.EventRecord, bool) {
	key := scope + ":" + ev.Metric
	prev, seen := e.last[key]
	if !seen {
		prev = types.TierGreen
	}
	e.last[key] = ev.Tier
	if prev == ev.Tier {
		return types.EventRecord{}, false
	}
	return types.EventRecord{
		ID:         e.newID(),
		ScheduleID: scope,
		Timestamp:  now,
		Metric:     ev.Metric,
		Value:      ev.Value,
		Previous:   prev,
		Current:    ev.Tier,
		Action:     ev.Action,
	}, true
}

// Last returns the most recent tier of metric in scope.
func (e *Evaluator) Last(scope, metric string) (types.Tier, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.last[scope+":"+metric]
	return t, ok
}

// History returns copies of recent transition events, oldest first.
func (e *Evaluator) History() []types.EventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.EventRecord, len(e.history))
	copy(out, e.history)
	return out
}

func action(r config.ThresholdRule, t types.Tier) string {
	if a, ok := r.Actions[t]; ok && a != "" {
		return a
	}
	return DefaultActions[t]
}
