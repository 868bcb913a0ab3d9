package domain

// HistoryFlag is a relevant item of the patient's history.
type HistoryFlag string

const (
	HistoryPriorMI               HistoryFlag = "prior_mi"
	HistoryCoronaryArteryDisease HistoryFlag = "coronary_artery_disease"
	HistoryHeartFailure          HistoryFlag = "heart_failure"
	HistoryDiabetes              HistoryFlag = "diabetes"
	HistoryHypertension          HistoryFlag = "hypertension"
	HistoryImplantedDevice       HistoryFlag = "implanted_device"
)

// Vitals is a point-in-time snapshot. Zero values mean "not measured".
type Vitals struct {
	HeartRateBPM int     `json:"heart_rate_bpm,omitempty"`
	SystolicBP   int     `json:"systolic_bp,omitempty"`
	DiastolicBP  int     `json:"diastolic_bp,omitempty"`
	SpO2         float64 `json:"spo2,omitempty"`
	ChestPain    bool    `json:"chest_pain,omitempty"`
}

// ClinicalContext is supplied by the patient-data collaborator and never modified here.
type ClinicalContext struct {
	AgeYears int           `json:"age_years,omitempty"`
	History  []HistoryFlag `json:"history,omitempty"`
	Vitals   Vitals        `json:"vitals"`
}

func (c *ClinicalContext) Has(flag HistoryFlag) bool {
	if c == nil {
		return false
	}
	for _, h := range c.History {
		if h == flag {
			return true
		}
	}
	return false
}
