package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// Default values applied when fields are absent from the policy file.
const (
	DefaultInterval        = 1 * time.Hour
	DefaultHealthTarget    = 0.80
	DefaultHoursCeiling    = 320.0
	DefaultTrailingDays    = 28
	DefaultCoverageCap     = 1.5
	DefaultHighImpactDelta = 0.10

	DefaultTrials          = 10000
	DefaultMinFailures     = 1
	DefaultMaxFailures     = 3
	DefaultDurationDays    = 14
	DefaultSeed            = 42
	DefaultSimTimeout      = 30 * time.Second
	DefaultMaxCombinations = 5000

	DefaultSuccessFloor = 0.90

	DefaultSnapshotHorizon = 28 * 24 * time.Hour
	DefaultSnapshotTTL     = 24 * time.Hour

	DefaultNATSSubjectPrefix = "rotaguard"
	DefaultNATSBufferSize    = 256
)

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 1e-9

// Config is the full policy tree parsed from policy.yaml.
type Config struct {
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Simulation SimulationConfig `yaml:"simulation"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Output     OutputConfig     `yaml:"output"`
}

// AnalysisConfig holds health scoring and contingency policy.
type AnalysisConfig struct {
	// Interval controls how often the binary re-runs the pipeline in watch mode.
	Interval time.Duration `yaml:"interval"`

	// Weights of the three health sub-scores. They must sum to 1.0.
	Weights WeightsConfig `yaml:"weights"`

	// HealthTarget is the aggregate score below which contingency analysis,
	// simulation and recovery planning run.
	HealthTarget float64 `yaml:"health_target"`

	// AlwaysDeep runs every stage regardless of HealthTarget.
	AlwaysDeep bool `yaml:"always_deep"`

	// HoursCeiling is the permitted hours per trailing window (80h/week × 4).
	HoursCeiling float64 `yaml:"hours_ceiling"`

	// TrailingDays is the length of the margin window.
	TrailingDays int `yaml:"trailing_days"`

	// CoverageCap bounds actual/required so overstaffing cannot inflate coverage.
	CoverageCap float64 `yaml:"coverage_cap"`

	// HighImpactDelta is the aggregate margin drop that makes an absence
	// high-impact without a coverage failure.
	HighImpactDelta float64 `yaml:"high_impact_delta"`

	// Blocks defines where rotation switches are expected.
	Blocks BlockConfig `yaml:"blocks"`
}

// WeightsConfig holds the health sub-score weights.
type WeightsConfig struct {
	Coverage   float64 `yaml:"coverage"`
	Margin     float64 `yaml:"margin"`
	Continuity float64 `yaml:"continuity"`
}

// Sum returns the total of the three weights.
func (w WeightsConfig) Sum() float64 {
	return w.Coverage + w.Margin + w.Continuity
}

// Validate checks that every weight is non-negative and that they sum to 1.0.
func (w WeightsConfig) Validate() error {
	if w.Coverage < 0 || w.Margin < 0 || w.Continuity < 0 {
		return fmt.Errorf("weights must not be negative (coverage=%g margin=%g continuity=%g)",
			w.Coverage, w.Margin, w.Continuity)
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %g", w.Sum())
	}
	return nil
}

// BlockConfig describes the block calendar. When LengthDays is set, blocks
// are LengthDays long counted from Anchor; otherwise a block starts on each
// of DaysOfMonth.
type BlockConfig struct {
	DaysOfMonth []int  `yaml:"days_of_month"`
	LengthDays  int    `yaml:"length_days"`
	Anchor      string `yaml:"anchor"` // YYYY-MM-DD
}

// AnchorTime parses Anchor as a UTC date.
func (b BlockConfig) AnchorTime() (time.Time, error) {
	if b.Anchor == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", b.Anchor)
	if err != nil {
		return time.Time{}, fmt.Errorf("blocks.anchor %q: %w", b.Anchor, err)
	}
	return t, nil
}

// SimulationConfig holds Monte Carlo policy.
type SimulationConfig struct {
	Trials       int    `yaml:"trials"`
	MinFailures  int    `yaml:"min_failures"`
	MaxFailures  int    `yaml:"max_failures"`
	DurationDays int    `yaml:"duration_days"`
	Seed         uint64 `yaml:"seed"`

	// Workers is the number of simulation goroutines; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// Timeout bounds one simulation; on expiry a partial result is returned.
	Timeout time.Duration `yaml:"timeout"`

	// MaxCombinations caps the targeted worst-case search.
	MaxCombinations int `yaml:"max_combinations"`
}

// RecoveryConfig holds recovery planning policy and candidate strategies.
type RecoveryConfig struct {
	// SuccessFloor is the minimum success probability a strategy must meet.
	SuccessFloor float64          `yaml:"success_floor"`
	Strategies   []types.Strategy `yaml:"strategies"`
}

// ThresholdsConfig holds the status tier table.
type ThresholdsConfig struct {
	Rules []ThresholdRule `yaml:"rules"`
}

// ThresholdRule maps one metric to tiers.
type ThresholdRule struct {
	// Metric is one of: health_score | coverage | margin | continuity |
	// collapse_probability | critical_fraction | fatal_pairs | recovery_hours.
	Metric string `yaml:"metric"`

	// Op is the comparison that makes a tier apply: "<", "<=", ">", ">=".
	Op string `yaml:"op"`

	// Tiers maps YELLOW/ORANGE/RED/BLACK to their bound.
	Tiers map[types.Tier]float64 `yaml:"tiers"`

	// Actions maps a tier to its recommended action. Missing entries fall
	// back to the evaluator's default action for that tier.
	Actions map[types.Tier]string `yaml:"actions"`
}

// SnapshotConfig locates the schedule snapshot.
type SnapshotConfig struct {
	// Path is the JSON snapshot file exported by the scheduling system.
	Path string `yaml:"path"`

	// Start and End fix the analysis window. When both are zero the window
	// is [today, today+Horizon).
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`

	Horizon time.Duration `yaml:"horizon"`

	// TTL is how long a schedule's latest report stays in the record store.
	TTL time.Duration `yaml:"ttl"`
}

// OutputConfig controls where records go.
type OutputConfig struct {
	// MetricsFile receives the Prometheus text exposition after each run.
	MetricsFile string `yaml:"metrics_file"`

	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the record shipper.
type NATSConfig struct {
	// URLEnv is the name of the environment variable holding the NATS URL.
	URLEnv        string `yaml:"url_env"`
	SubjectPrefix string `yaml:"subject_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

// URL returns the NATS URL resolved from the environment.
func (n NATSConfig) URL() string {
	if n.URLEnv == "" {
		return ""
	}
	return os.Getenv(n.URLEnv)
}

// Load reads and parses the YAML policy file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a policy document, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Interval: DefaultInterval,
			Weights: WeightsConfig{
				Coverage:   0.4,
				Margin:     0.3,
				Continuity: 0.3,
			},
			HealthTarget:    DefaultHealthTarget,
			HoursCeiling:    DefaultHoursCeiling,
			TrailingDays:    DefaultTrailingDays,
			CoverageCap:     DefaultCoverageCap,
			HighImpactDelta: DefaultHighImpactDelta,
			Blocks: BlockConfig{
				DaysOfMonth: []int{1, 15},
			},
		},
		Simulation: SimulationConfig{
			Trials:          DefaultTrials,
			MinFailures:     DefaultMinFailures,
			MaxFailures:     DefaultMaxFailures,
			DurationDays:    DefaultDurationDays,
			Seed:            DefaultSeed,
			Timeout:         DefaultSimTimeout,
			MaxCombinations: DefaultMaxCombinations,
		},
		Recovery: RecoveryConfig{
			SuccessFloor: DefaultSuccessFloor,
			Strategies:   DefaultStrategies(),
		},
		Thresholds: ThresholdsConfig{
			Rules: DefaultThresholdRules(),
		},
		Snapshot: SnapshotConfig{
			Horizon: DefaultSnapshotHorizon,
			TTL:     DefaultSnapshotTTL,
		},
		Output: OutputConfig{
			NATS: NATSConfig{
				SubjectPrefix: DefaultNATSSubjectPrefix,
				BufferSize:    DefaultNATSBufferSize,
			},
		},
	}
}

// DefaultStrategies returns the built-in mitigation catalogue. Stats are
// placeholders until the caller attaches historical effectiveness data.
func DefaultStrategies() []types.Strategy {
	return []types.Strategy{
		{
			Name:             "redistribute within rotation",
			Kind:             types.StrategyInternal,
			NotificationTime: 2 * time.Hour,
			OrientationTime:  0,
			ComplianceHold:   24 * time.Hour,
			Stats:            types.StrategyStats{SuccessRate: 0.95, AvgCost: 0},
		},
		{
			Name:             "activate cross-trained backup",
			Kind:             types.StrategyCrossTrained,
			NotificationTime: 4 * time.Hour,
			OrientationTime:  8 * time.Hour,
			Stats:            types.StrategyStats{SuccessRate: 0.90, AvgCost: 500},
		},
		{
			Name:              "supplemental locum staffing",
			Kind:              types.StrategySupplemental,
			NotificationTime:  24 * time.Hour,
			CredentialingTime: 72 * time.Hour,
			OrientationTime:   16 * time.Hour,
			Stats:             types.StrategyStats{SuccessRate: 0.98, AvgCost: 4000},
		},
		{
			Name:             "hybrid redistribution and backup",
			Kind:             types.StrategyHybrid,
			NotificationTime: 4 * time.Hour,
			OrientationTime:  4 * time.Hour,
			ComplianceHold:   12 * time.Hour,
			Stats:            types.StrategyStats{SuccessRate: 0.92, AvgCost: 1500},
		},
	}
}

// DefaultThresholdRules returns the built-in status tier table.
func DefaultThresholdRules() []ThresholdRule {
	return []ThresholdRule{
		{Metric: "health_score", Op: "<", Tiers: tiers(0.85, 0.70, 0.55, 0.40)},
		{Metric: "coverage", Op: "<", Tiers: tiers(0.75, 0.666, 0.60, 0.50)},
		{Metric: "margin", Op: "<", Tiers: tiers(0.30, 0.20, 0.10, 0.05)},
		{Metric: "continuity", Op: "<", Tiers: tiers(0.80, 0.60, 0.40, 0.20)},
		{Metric: "collapse_probability", Op: ">", Tiers: tiers(0.05, 0.15, 0.30, 0.50)},
		{Metric: "critical_fraction", Op: ">", Tiers: tiers(0.05, 0.15, 0.30, 0.50)},
		{Metric: "fatal_pairs", Op: ">", Tiers: tiers(0, 3, 10, 25)},
		{Metric: "recovery_hours", Op: ">", Tiers: tiers(24, 72, 168, 336)},
	}
}

func tiers(yellow, orange, red, black float64) map[types.Tier]float64 {
	return map[types.Tier]float64{
		types.TierYellow: yellow,
		types.TierOrange: orange,
		types.TierRed:    red,
		types.TierBlack:  black,
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Analysis
	if err := a.Weights.Validate(); err != nil {
		return fmt.Errorf("analysis.%w", err)
	}
	if a.HealthTarget < 0 || a.HealthTarget > 1 {
		return fmt.Errorf("analysis.health_target %g is out of range [0, 1]", a.HealthTarget)
	}
	if a.HoursCeiling <= 0 {
		return fmt.Errorf("analysis.hours_ceiling must be positive")
	}
	if a.TrailingDays <= 0 {
		return fmt.Errorf("analysis.trailing_days must be positive")
	}
	if a.CoverageCap < 1 {
		return fmt.Errorf("analysis.coverage_cap must be at least 1")
	}
	if a.HighImpactDelta < 0 || a.HighImpactDelta > 1 {
		return fmt.Errorf("analysis.high_impact_delta %g is out of range [0, 1]", a.HighImpactDelta)
	}
	if a.Interval <= 0 {
		return fmt.Errorf("analysis.interval must be positive")
	}
	if a.Blocks.LengthDays < 0 {
		return fmt.Errorf("analysis.blocks.length_days must not be negative")
	}
	if a.Blocks.LengthDays == 0 && len(a.Blocks.DaysOfMonth) == 0 {
		return fmt.Errorf("analysis.blocks: either length_days or days_of_month is required")
	}
	for _, d := range a.Blocks.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("analysis.blocks.days_of_month: %d is out of range [1, 31]", d)
		}
	}
	if _, err := a.Blocks.AnchorTime(); err != nil {
		return fmt.Errorf("analysis.%w", err)
	}

	s := cfg.Simulation
	if s.Trials <= 0 {
		return fmt.Errorf("simulation.trials must be positive")
	}
	if s.MinFailures < 0 || s.MinFailures > s.MaxFailures {
		return fmt.Errorf("simulation: min_failures %d must be in [0, max_failures=%d]", s.MinFailures, s.MaxFailures)
	}
	if s.DurationDays <= 0 {
		return fmt.Errorf("simulation.duration_days must be positive")
	}
	if s.Workers < 0 {
		return fmt.Errorf("simulation.workers must not be negative")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("simulation.timeout must not be negative")
	}
	if s.MaxCombinations < 0 {
		return fmt.Errorf("simulation.max_combinations must not be negative")
	}

	if cfg.Recovery.SuccessFloor < 0 || cfg.Recovery.SuccessFloor > 1 {
		return fmt.Errorf("recovery.success_floor %g is out of range [0, 1]", cfg.Recovery.SuccessFloor)
	}
	for i, st := range cfg.Recovery.Strategies {
		if st.Name == "" {
			return fmt.Errorf("recovery.strategies[%d]: name is required", i)
		}
		switch st.Kind {
		case types.StrategyInternal, types.StrategySupplemental, types.StrategyCrossTrained, types.StrategyHybrid:
		default:
			return fmt.Errorf("recovery.strategies[%d] %q: unknown kind %q", i, st.Name, st.Kind)
		}
	}

	for i, r := range cfg.Thresholds.Rules {
		if r.Metric == "" {
			return fmt.Errorf("thresholds.rules[%d]: metric is required", i)
		}
		switch r.Op {
		case "<", "<=", ">", ">=":
		default:
			return fmt.Errorf("thresholds.rules[%d] %q: unknown op %q", i, r.Metric, r.Op)
		}
		for tier := range r.Tiers {
			if tier.Rank() <= 0 {
				return fmt.Errorf("thresholds.rules[%d] %q: unknown tier %q", i, r.Metric, tier)
			}
		}
	}

	if !cfg.Snapshot.End.IsZero() && cfg.Snapshot.End.Before(cfg.Snapshot.Start) {
		return fmt.Errorf("snapshot: end is before start")
	}
	if cfg.Snapshot.Horizon <= 0 {
		return fmt.Errorf("snapshot.horizon must be positive")
	}
	if cfg.Snapshot.TTL < 0 {
		return fmt.Errorf("snapshot.ttl must not be negative")
	}
	if cfg.Output.NATS.BufferSize <= 0 {
		return fmt.Errorf("output.nats.buffer_size must be positive")
	}
	return nil
}
