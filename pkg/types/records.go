package types

import "time"

// HealthCheckRecord is the persisted shape of one health check.
type HealthCheckRecord struct {
	ID              string    `json:"id"`
	ScheduleID      string    `json:"schedule_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          Tier      `json:"status"`
	Coverage        float64   `json:"coverage"`
	Margin          float64   `json:"margin"`
	Continuity      float64   `json:"continuity"`
	Score           float64   `json:"score"`
	Warnings        []string  `json:"warnings,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// VulnerabilityRecord is the persisted shape of an N-1/N-2 analysis.
type VulnerabilityRecord struct {
	ID                  string              `json:"id"`
	ScheduleID          string              `json:"schedule_id"`
	Timestamp           time.Time           `json:"timestamp"`
	N1Pass              bool                `json:"n1_pass"`
	N2Pass              bool                `json:"n2_pass"`
	CriticalPersons     []string            `json:"critical_persons"`
	FatalPairs          []FatalPair         `json:"fatal_pairs"`
	PhaseTransitionRisk Tier                `json:"phase_transition_risk"`
	Results             []ContingencyResult `json:"results"`
}

// SimulationRecord is the persisted shape of a Monte Carlo run.
type SimulationRecord struct {
	ID         string           `json:"id"`
	ScheduleID string           `json:"schedule_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Result     SimulationResult `json:"result"`
}

// EventRecord is emitted whenever a status tier crosses a boundary.
type EventRecord struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	Timestamp  time.Time `json:"timestamp"`
	// Metric is the evaluated metric, or "overall" for the aggregate tier.
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Previous Tier    `json:"previous"`
	Current  Tier    `json:"current"`
	Action   string  `json:"action,omitempty"`
}

// Escalated reports whether the transition moved to a worse tier.
func (e EventRecord) Escalated() bool {
	return e.Current.Rank() > e.Previous.Rank()
}

// Report bundles everything one pipeline run produced. Stages that did
// not run are nil.
type Report struct {
	ScheduleID    string               `json:"schedule_id"`
	Window        Window               `json:"window"`
	GeneratedAt   time.Time            `json:"generated_at"`
	Status        Tier                 `json:"status"`
	Health        HealthCheckRecord    `json:"health"`
	Vulnerability *VulnerabilityRecord `json:"vulnerability,omitempty"`
	Simulation    *SimulationRecord    `json:"simulation,omitempty"`
	Recovery      *RecoveryPlan        `json:"recovery,omitempty"`
	Evaluations   []Evaluation         `json:"evaluations"`
	Events        []EventRecord        `json:"events,omitempty"`
}
