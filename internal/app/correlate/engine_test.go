package correlate

import (
	"testing"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

func TestBaseTiers(t *testing.T) {
	e := mustEngine(t)
	cases := []struct {
		label domain.Label
		conf  float64
		want  domain.Urgency
	}{
		{domain.LabelSTEMI, 0.9, domain.UrgencyCritical},
		{domain.LabelSTEMI, 0.85, domain.UrgencyCritical},
		{domain.LabelSTEMI, 0.7, domain.UrgencyUrgent},
		{domain.LabelSTEMI, 0.6, domain.UrgencyUrgent},
		{domain.LabelSTEMI, 0.59, domain.UrgencyRoutine},
		{domain.LabelVentricularTachycardia, 0.95, domain.UrgencyCritical},
		{domain.LabelAtrialFibrillation, 0.95, domain.UrgencyUrgent},
		{domain.LabelAtrialFibrillation, 0.7, domain.UrgencyRoutine},
		{domain.LabelNormal, 0.99, domain.UrgencyRoutine},
	}
	for _, tc := range cases {
		if got := e.Base(tc.label, tc.conf); got != tc.want {
			t.Fatalf("Base(%s, %.2f) = %s, want %s", tc.label, tc.conf, got, tc.want)
		}
	}
}

func TestCorrelateSTEMIAtCeiling(t *testing.T) {
	e := mustEngine(t)
	d := domain.AggregatedDiagnosis{Label: domain.LabelSTEMI, Confidence: 0.9}

	got := e.Correlate(d, nil)
	if got.Urgency != domain.UrgencyCritical || got.Escalated() {
		t.Fatalf("expected CRITICAL without escalation, got %+v", got)
	}

	risky := &domain.ClinicalContext{AgeYears: 80, History: []domain.HistoryFlag{domain.HistoryPriorMI}}
	got = e.Correlate(d, risky)
	if got.Urgency != domain.UrgencyCritical {
		t.Fatalf("expected CRITICAL with context, got %s", got.Urgency)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("expected history and age rules recorded, got %v", got.Rules)
	}
}

func TestCorrelateEscalatesOneTierPerRule(t *testing.T) {
	e := mustEngine(t)
	d := domain.AggregatedDiagnosis{Label: domain.LabelAtrialFibrillation, Confidence: 0.7}

	got := e.Correlate(d, &domain.ClinicalContext{History: []domain.HistoryFlag{domain.HistoryHeartFailure}})
	if got.Base != domain.UrgencyRoutine || got.Urgency != domain.UrgencyUrgent {
		t.Fatalf("expected ROUTINE->URGENT, got %+v", got)
	}

	got = e.Correlate(d, &domain.ClinicalContext{
		History: []domain.HistoryFlag{domain.HistoryCoronaryArteryDisease},
		Vitals:  domain.Vitals{SystolicBP: 82},
	})
	if got.Urgency != domain.UrgencyCritical {
		t.Fatalf("expected two escalations to reach CRITICAL, got %+v", got)
	}
}

func TestCorrelateChestPainOnlyForAcuteLabels(t *testing.T) {
	e := mustEngine(t)
	ctx := &domain.ClinicalContext{Vitals: domain.Vitals{ChestPain: true}}

	acute := e.Correlate(domain.AggregatedDiagnosis{Label: domain.LabelSTEMI, Confidence: 0.65}, ctx)
	if acute.Urgency != domain.UrgencyCritical {
		t.Fatalf("expected chest pain to escalate STEMI, got %+v", acute)
	}
	other := e.Correlate(domain.AggregatedDiagnosis{Label: domain.LabelSinusBradycardia, Confidence: 0.65}, ctx)
	if other.Escalated() {
		t.Fatalf("chest pain alone should not escalate bradycardia, got %+v", other)
	}
}

func TestCorrelateNormalNeverEscalates(t *testing.T) {
	e := mustEngine(t)
	ctx := &domain.ClinicalContext{
		AgeYears: 90,
		History:  []domain.HistoryFlag{domain.HistoryPriorMI},
		Vitals:   domain.Vitals{SystolicBP: 70, SpO2: 85, HeartRateBPM: 160},
	}
	got := e.Correlate(domain.AggregatedDiagnosis{Label: domain.LabelNormal, Confidence: 0.95}, ctx)
	if got.Urgency != domain.UrgencyRoutine || len(got.Rules) != 0 {
		t.Fatalf("expected normal to stay ROUTINE, got %+v", got)
	}
}

func TestUnmeasuredVitalsAreIgnored(t *testing.T) {
	e := mustEngine(t)
	got := e.Correlate(domain.AggregatedDiagnosis{Label: domain.LabelAtrialFibrillation, Confidence: 0.9}, &domain.ClinicalContext{})
	if got.Escalated() {
		t.Fatalf("zero vitals should not count as instability, got %+v", got)
	}
}

func TestCorrelateIsMonotonicAndPure(t *testing.T) {
	e := mustEngine(t)
	labels := []domain.Label{
		domain.LabelNormal, domain.LabelAnomaly, domain.LabelSinusBradycardia,
		domain.LabelAtrialFibrillation, domain.LabelVentricularTachycardia, domain.LabelSTEMI,
	}
	contexts := []*domain.ClinicalContext{
		nil,
		{},
		{AgeYears: 80},
		{History: []domain.HistoryFlag{domain.HistoryDiabetes}},
		{History: []domain.HistoryFlag{domain.HistoryPriorMI}, Vitals: domain.Vitals{SpO2: 88}},
		{AgeYears: 77, History: []domain.HistoryFlag{domain.HistoryHeartFailure}, Vitals: domain.Vitals{HeartRateBPM: 35, ChestPain: true}},
	}
	for _, l := range labels {
		for conf := 0.0; conf <= 1.0; conf += 0.05 {
			d := domain.AggregatedDiagnosis{Label: l, Confidence: conf}
			base := e.Correlate(d, nil).Urgency
			for i, c := range contexts {
				got := e.Correlate(d, c)
				if got.Urgency < base {
					t.Fatalf("%s@%.2f ctx %d: %s below base %s", l, conf, i, got.Urgency, base)
				}
				if again := e.Correlate(d, c); again.Urgency != got.Urgency || len(again.Rules) != len(got.Rules) {
					t.Fatalf("%s@%.2f ctx %d: correlate is not deterministic", l, conf, i)
				}
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewEngine(Config{CriticalThreshold: 0.5, UrgentThreshold: 0.7}, nil); err == nil {
		t.Fatalf("expected inverted thresholds to fail")
	}
	if _, err := NewEngine(Config{UrgentThreshold: 1.5}, nil); err == nil {
		t.Fatalf("expected out-of-range threshold to fail")
	}
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}
