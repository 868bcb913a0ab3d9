package domain

// Label is a diagnostic class emitted by a model.
type Label string

const (
	LabelNormal                 Label = "normal"
	LabelSinusBradycardia       Label = "sinus_bradycardia"
	LabelSinusTachycardia       Label = "sinus_tachycardia"
	LabelAtrialFibrillation     Label = "atrial_fibrillation"
	LabelPrematureVentricular   Label = "premature_ventricular_contraction"
	LabelVentricularTachycardia Label = "ventricular_tachycardia"
	LabelSTEMI                  Label = "stemi"
	LabelAnomaly                Label = "anomaly"
)

// severity ranks order labels for tie-breaks; 0 is reserved for normal.
var severity = map[Label]int{
	LabelNormal:                 0,
	LabelAnomaly:                1,
	LabelSinusBradycardia:       2,
	LabelSinusTachycardia:       2,
	LabelPrematureVentricular:   3,
	LabelAtrialFibrillation:     4,
	LabelVentricularTachycardia: 6,
	LabelSTEMI:                  7,
}

// Severity returns the label's rank. Labels this build does not know about are
// treated as high-severity so a new class from a remote model is never down-weighted.
func (l Label) Severity() int {
	if s, ok := severity[l]; ok {
		return s
	}
	return 1
}

// HighSeverity reports whether the label describes an abnormal finding.
func (l Label) HighSeverity() bool { return l.Severity() > 0 }

// Acute reports whether the label is an acute event that can reach CRITICAL.
func (l Label) Acute() bool {
	return l == LabelSTEMI || l == LabelVentricularTachycardia
}
