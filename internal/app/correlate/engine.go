// Package correlate maps an aggregated diagnosis and the patient's clinical context to
// an urgency tier.
package correlate

import (
	"fmt"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

const (
	minSystolicBP = 90
	minSpO2       = 90.0
	minHeartRate  = 40
	maxHeartRate  = 150
	advancedAge   = 75
)

type Config struct {
	CriticalThreshold float64 `yaml:"critical_threshold"`
	UrgentThreshold   float64 `yaml:"urgent_threshold"`
}

func (c *Config) ApplyDefaults() {
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = 0.85
	}
	if c.UrgentThreshold == 0 {
		c.UrgentThreshold = 0.6
	}
}

func (c Config) Validate() error {
	if c.UrgentThreshold <= 0 || c.UrgentThreshold > 1 {
		return fmt.Errorf("urgent_threshold must be in (0,1], got %v", c.UrgentThreshold)
	}
	if c.CriticalThreshold < c.UrgentThreshold || c.CriticalThreshold > 1 {
		return fmt.Errorf("critical_threshold must be in [urgent_threshold,1], got %v", c.CriticalThreshold)
	}
	return nil
}

// Rule raises urgency by one tier when it applies.
type Rule struct {
	Name    string
	Applies func(label domain.Label, c *domain.ClinicalContext) bool
}

// DefaultRules is the escalation table, evaluated in order.
var DefaultRules = []Rule{
	{Name: "high_risk_history", Applies: highRiskHistory},
	{Name: "hemodynamic_instability", Applies: hemodynamicInstability},
	{Name: "advanced_age", Applies: func(l domain.Label, c *domain.ClinicalContext) bool {
		return l.Acute() && c.AgeYears >= advancedAge
	}},
}

func highRiskHistory(_ domain.Label, c *domain.ClinicalContext) bool {
	return c.Has(domain.HistoryPriorMI) ||
		c.Has(domain.HistoryCoronaryArteryDisease) ||
		c.Has(domain.HistoryHeartFailure)
}

// Zero vitals are unmeasured and never count as unstable.
func hemodynamicInstability(l domain.Label, c *domain.ClinicalContext) bool {
	v := c.Vitals
	switch {
	case v.SystolicBP > 0 && v.SystolicBP < minSystolicBP:
		return true
	case v.SpO2 > 0 && v.SpO2 < minSpO2:
		return true
	case v.HeartRateBPM > 0 && (v.HeartRateBPM < minHeartRate || v.HeartRateBPM > maxHeartRate):
		return true
	case v.ChestPain && l.Acute():
		return true
	}
	return false
}

// Correlation is the outcome of one correlate call.
type Correlation struct {
	Base    domain.Urgency
	Urgency domain.Urgency
	Rules   []string
}

// Escalated reports whether context moved the tier above the base.
func (c Correlation) Escalated() bool { return c.Urgency > c.Base }

type Engine struct {
	cfg   Config
	rules []Rule
}

// NewEngine uses DefaultRules when rules is nil.
func NewEngine(cfg Config, rules []Rule) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rules == nil {
		rules = DefaultRules
	}
	return &Engine{cfg: cfg, rules: rules}, nil
}

// Base maps (label, confidence) to the tier used when there is no context.
func (e *Engine) Base(label domain.Label, confidence float64) domain.Urgency {
	switch {
	case label.Acute():
		if confidence >= e.cfg.CriticalThreshold {
			return domain.UrgencyCritical
		}
		if confidence >= e.cfg.UrgentThreshold {
			return domain.UrgencyUrgent
		}
		return domain.UrgencyRoutine
	case label.HighSeverity():
		if confidence >= e.cfg.CriticalThreshold {
			return domain.UrgencyUrgent
		}
		return domain.UrgencyRoutine
	default:
		return domain.UrgencyRoutine
	}
}

// Correlate never lowers the tier below Base. Rules only fire for abnormal labels,
// and every applicable rule is recorded even when the tier is already CRITICAL.
func (e *Engine) Correlate(d domain.AggregatedDiagnosis, c *domain.ClinicalContext) Correlation {
	base := e.Base(d.Label, d.Confidence)
	out := Correlation{Base: base, Urgency: base}
	if c == nil || !d.Label.HighSeverity() {
		return out
	}
	for _, r := range e.rules {
		if r.Applies == nil || !r.Applies(d.Label, c) {
			continue
		}
		out.Rules = append(out.Rules, r.Name)
		out.Urgency = out.Urgency.Raise(1)
	}
	return out
}
