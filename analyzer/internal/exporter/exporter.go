package exporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/rotaguard/rotaguard/pkg/types"
)

const namespace = "rotaguard_"

// family accumulates gauge samples for one metric name.
type family struct {
	help    string
	metrics []*dto.Metric
}

// collector builds metric families in a stable order.
type collector struct {
	families map[string]*family
}

func (c *collector) gauge(name, help string, value float64, labels ...string) {
	f, ok := c.families[name]
	if !ok {
		f = &family{help: help}
		c.families[name] = f
	}
	m := &dto.Metric{Gauge: &dto.Gauge{Value: ptr(value)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{Name: ptr(labels[i]), Value: ptr(labels[i+1])})
	}
	f.metrics = append(f.metrics, m)
}

// Families converts reports into gauge metric families sorted by name.
// Stages that did not run in a report contribute no samples.
func Families(reports []*types.Report) []*dto.MetricFamily {
	c := &collector{families: make(map[string]*family)}
	for _, r := range reports {
		s := r.ScheduleID
		c.gauge("health_score", "Aggregate schedule health score (0-1).", r.Health.Score, "schedule", s)
		c.gauge("health_coverage", "Coverage sub-score (0-1).", r.Health.Coverage, "schedule", s)
		c.gauge("health_margin", "Work-hour margin sub-score (0-1).", r.Health.Margin, "schedule", s)
		c.gauge("health_continuity", "Continuity sub-score (0-1).", r.Health.Continuity, "schedule", s)
		c.gauge("status_tier", "Overall status tier: 0=GREEN 1=YELLOW 2=ORANGE 3=RED 4=BLACK.",
			float64(r.Status.Rank()), "schedule", s)
		c.gauge("report_timestamp_seconds", "Unix time the report was generated.",
			float64(r.GeneratedAt.Unix()), "schedule", s)

		if v := r.Vulnerability; v != nil {
			c.gauge("critical_persons", "Persons whose single absence fails coverage.",
				float64(len(v.CriticalPersons)), "schedule", s)
			c.gauge("fatal_pairs", "Pairs whose joint absence fails coverage.",
				float64(len(v.FatalPairs)), "schedule", s)
			c.gauge("phase_transition_risk", "Phase-transition risk tier rank.",
				float64(v.PhaseTransitionRisk.Rank()), "schedule", s)
		}

		if sim := r.Simulation; sim != nil {
			res := sim.Result
			c.gauge("collapse_probability", "Fraction of simulated trials with a coverage failure.",
				res.CollapseProbability, "schedule", s)
			c.gauge("simulation_trials_completed", "Simulated trials completed in the last run.",
				float64(res.TrialsCompleted), "schedule", s)
			for _, f := range res.FragileRotations {
				c.gauge("rotation_failure_probability", "Per-rotation failure probability under simulation.",
					f.FailureProbability, "schedule", s, "rotation", f.RotationID)
			}
			if res.WorstCase != nil {
				c.gauge("worst_case_impact", "Impact score of the worst absence scenario found.",
					res.WorstCase.ImpactScore, "schedule", s)
			}
		}

		if p := r.Recovery; p != nil {
			c.gauge("recovery_hours", "Estimated hours to recover from the worst disruption.",
				p.Selected.EstimatedTime.Hours(), "schedule", s)
		}
	}

	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		f := c.families[name]
		out = append(out, &dto.MetricFamily{
			Name:   ptr(namespace + name),
			Help:   ptr(f.help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: f.metrics,
		})
	}
	return out
}

// Write encodes the reports in the Prometheus text exposition format.
func Write(w io.Writer, reports []*types.Report) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range Families(reports) {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("exporter: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the exposition to path atomically, for scraping by the
// node exporter textfile collector.
func WriteFile(path string, reports []*types.Report) error {
	var buf bytes.Buffer
	if err := Write(&buf, reports); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rotaguard-*.prom")
	if err != nil {
		return fmt.Errorf("exporter: create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("exporter: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("exporter: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("exporter: rename to %s: %w", path, err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
