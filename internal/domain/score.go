package domain

import "fmt"

// Capability is the kind of question a model answers.
type Capability string

const (
	CapabilityRhythm     Capability = "rhythm"
	CapabilityAnomaly    Capability = "anomaly"
	CapabilityAcuteEvent Capability = "acute_event"
)

func (c Capability) Valid() bool {
	switch c {
	case CapabilityRhythm, CapabilityAnomaly, CapabilityAcuteEvent:
		return true
	}
	return false
}

// ModelRef identifies a model build.
type ModelRef struct {
	ID         string     `json:"id"`
	Version    string     `json:"version"`
	Capability Capability `json:"capability"`
}

func (r ModelRef) String() string {
	if r.Version == "" {
		return r.ID
	}
	return fmt.Sprintf("%s@%s", r.ID, r.Version)
}

// ModelScore is the full probability distribution one model produced for one job.
type ModelScore struct {
	Model         ModelRef          `json:"model"`
	Probabilities map[Label]float64 `json:"probabilities"`
}

// AggregatedDiagnosis is the fused verdict across all model scores of a job.
type AggregatedDiagnosis struct {
	Label        Label        `json:"label"`
	Confidence   float64      `json:"confidence"`
	Contributing []ModelScore `json:"contributing"`
}
