package types

import "time"

// HealthReport is the output of the health score calculator.
// Every score is in [0, 1].
type HealthReport struct {
	Coverage   float64 `json:"coverage"`
	Margin     float64 `json:"margin"`
	Continuity float64 `json:"continuity"`
	Score      float64 `json:"score"`

	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	Rotations []RotationCoverage `json:"rotations,omitempty"`
	Persons   []PersonHealth     `json:"persons,omitempty"`
}

// RotationCoverage is the coverage breakdown of one rotation.
type RotationCoverage struct {
	RotationID string  `json:"rotation_id"`
	Required   int     `json:"required"`
	Actual     int     `json:"actual"` // minimum daily headcount in the window
	Score      float64 `json:"score"`
}

// PersonHealth is the margin and continuity breakdown of one person.
type PersonHealth struct {
	PersonID    string  `json:"person_id"`
	HoursWorked float64 `json:"hours_worked"`
	Margin      float64 `json:"margin"`
	Switches    int     `json:"switches"`
	Continuity  float64 `json:"continuity"`
}

// ImpactClass is the N-1 classification of a single absence.
type ImpactClass string

const (
	ImpactCritical ImpactClass = "critical"
	ImpactHigh     ImpactClass = "high_impact"
	ImpactLow      ImpactClass = "low_impact"
)

// RotationFailure describes one rotation driven below its requirement.
type RotationFailure struct {
	RotationID string `json:"rotation_id"`
	// Shortfall is the largest daily deficit against MinStaff.
	Shortfall    int `json:"shortfall"`
	DaysAffected int `json:"days_affected"`
	// FirstDay is the day offset of the earliest deficit.
	FirstDay int `json:"first_day"`
}

// ContingencyResult is the N-1 outcome for one person.
type ContingencyResult struct {
	PersonID           string            `json:"person_id"`
	Impact             ImpactClass       `json:"impact"`
	ImpactScore        float64           `json:"impact_score"`
	UnderstaffingHours float64           `json:"understaffing_hours"`
	MarginDelta        float64           `json:"margin_delta"`
	Failures           []RotationFailure `json:"failures,omitempty"`
	// Violations counts compliance violations among colleagues absorbing
	// the absentee's hours.
	Violations       int           `json:"violations,omitempty"`
	RecoveryEstimate time.Duration `json:"recovery_estimate_ns,omitempty"`
}

// FatalPair is an N-2 combination that produces a coverage failure.
type FatalPair struct {
	First       string            `json:"first"`
	Second      string            `json:"second"`
	ImpactScore float64           `json:"impact_score"`
	Failures    []RotationFailure `json:"failures"`
	// Emergent is set when neither member is critical on their own.
	Emergent bool `json:"emergent,omitempty"`
}

// Severity is the fragility tier of a rotation under simulation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// RotationFragility is the simulated failure rate of one rotation.
type RotationFragility struct {
	RotationID         string   `json:"rotation_id"`
	FailureCount       int      `json:"failure_count"`
	FailureProbability float64  `json:"failure_probability"`
	Severity           Severity `json:"severity"`
}

// Scenario is one concrete set of simultaneous absences and its outcome.
type Scenario struct {
	PersonIDs   []string          `json:"person_ids"`
	ImpactScore float64           `json:"impact_score"`
	Collapsed   bool              `json:"collapsed"`
	TTF         int               `json:"ttf_days,omitempty"`
	Failures    []RotationFailure `json:"failures,omitempty"`
	Violations  int               `json:"violations,omitempty"`
	// Source is "sampled" or "targeted".
	Source string `json:"source"`
}

// SimulationResult aggregates one Monte Carlo run.
type SimulationResult struct {
	Seed            uint64 `json:"seed"`
	TrialsRequested int    `json:"trials_requested"`
	TrialsCompleted int    `json:"trials_completed"`
	// Complete is false when the deadline expired before every trial ran.
	Complete            bool    `json:"complete"`
	Collapses           int     `json:"collapses"`
	CollapseProbability float64 `json:"collapse_probability"`

	// MedianTTF and P95TTF are nil when no trial collapsed.
	MedianTTF *float64 `json:"median_ttf_days,omitempty"`
	P95TTF    *float64 `json:"p95_ttf_days,omitempty"`

	FragileRotations []RotationFragility `json:"fragile_rotations,omitempty"`
	WorstCase        *Scenario           `json:"worst_case,omitempty"`
	// CombinationsSearched counts targeted worst-case candidates evaluated.
	CombinationsSearched int `json:"combinations_searched,omitempty"`
}

// StrategyKind is a family of mitigation strategies.
type StrategyKind string

const (
	StrategyInternal     StrategyKind = "internal_redistribution"
	StrategySupplemental StrategyKind = "supplemental_staffing"
	StrategyCrossTrained StrategyKind = "cross_trained_backup"
	StrategyHybrid       StrategyKind = "hybrid"
)

// StrategyStats is the historical effectiveness of a strategy kind.
type StrategyStats struct {
	SuccessRate float64       `json:"success_rate" yaml:"success_rate"`
	AvgCost     float64       `json:"avg_cost" yaml:"avg_cost"`
	AvgDuration time.Duration `json:"avg_duration_ns" yaml:"avg_duration"`
}

// Strategy is one candidate mitigation with its stage timings.
type Strategy struct {
	Name              string        `json:"name" yaml:"name"`
	Kind              StrategyKind  `json:"kind" yaml:"kind"`
	NotificationTime  time.Duration `json:"notification_ns" yaml:"notification"`
	CredentialingTime time.Duration `json:"credentialing_ns" yaml:"credentialing"`
	OrientationTime   time.Duration `json:"orientation_ns" yaml:"orientation"`
	// ComplianceHold is added when redistribution is blocked by work-hour
	// limits until absorbers regain headroom.
	ComplianceHold time.Duration `json:"compliance_hold_ns,omitempty" yaml:"compliance_hold"`
	Stats          StrategyStats `json:"stats" yaml:"stats"`
}

// Disruption is a concrete coverage loss to recover from.
type Disruption struct {
	Description  string   `json:"description"`
	RotationID   string   `json:"rotation_id,omitempty"`
	PersonIDs    []string `json:"person_ids,omitempty"`
	Shortfall    int      `json:"shortfall"`
	DaysAffected int      `json:"days_affected"`
	// ComplianceBlocked marks that absorbers are already at their hour
	// limits, so redistribution has to wait for headroom.
	ComplianceBlocked bool `json:"compliance_blocked,omitempty"`
}

// Stage is one step on the critical path of a recovery.
type Stage string

const (
	StageNotification      Stage = "notification"
	StageCredentialing     Stage = "credentialing"
	StageOrientation       Stage = "orientation"
	StageComplianceBlocked Stage = "compliance_blocked_redistribution"
)

// StrategyEstimate is a strategy scored against a disruption.
type StrategyEstimate struct {
	Strategy           Strategy                `json:"strategy"`
	EstimatedTime      time.Duration           `json:"estimated_time_ns"`
	Cost               float64                 `json:"cost"`
	SuccessProbability float64                 `json:"success_probability"`
	MeetsFloor         bool                    `json:"meets_floor"`
	Stages             map[Stage]time.Duration `json:"stages"`
}

// RecoveryPlan is the output of the recovery planner.
type RecoveryPlan struct {
	Disruption Disruption         `json:"disruption"`
	Ranked     []StrategyEstimate `json:"ranked"`
	Selected   StrategyEstimate   `json:"selected"`
	Bottleneck Stage              `json:"bottleneck"`
	// BottleneckShare is the bottleneck's fraction of the selected time.
	BottleneckShare float64 `json:"bottleneck_share"`
	// InfeasibleWithinFloor is set when no strategy met the success floor
	// and Selected is only the best effort.
	InfeasibleWithinFloor bool `json:"infeasible_within_floor"`
}

// Tier is the status tier assigned by the threshold evaluator.
type Tier string

const (
	TierGreen  Tier = "GREEN"
	TierYellow Tier = "YELLOW"
	TierOrange Tier = "ORANGE"
	TierRed    Tier = "RED"
	TierBlack  Tier = "BLACK"
)

// Rank orders tiers from best (0) to worst (4). Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierGreen:
		return 0
	case TierYellow:
		return 1
	case TierOrange:
		return 2
	case TierRed:
		return 3
	case TierBlack:
		return 4
	default:
		return -1
	}
}

// Evaluation is one metric mapped to a tier.
type Evaluation struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Tier   Tier    `json:"tier"`
	Action string  `json:"action,omitempty"`
}
