package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Urgency drives downstream alerting priority. The zero value means "not assessed"
// and is only found on FAILED results.
type Urgency int

const (
	UrgencyUnset Urgency = iota
	UrgencyRoutine
	UrgencyUrgent
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyRoutine:
		return "ROUTINE"
	case UrgencyUrgent:
		return "URGENT"
	case UrgencyCritical:
		return "CRITICAL"
	default:
		return "UNSET"
	}
}

// Raise moves u up by steps tiers, never past CRITICAL and never below u.
func (u Urgency) Raise(steps int) Urgency {
	if steps <= 0 {
		return u
	}
	out := u + Urgency(steps)
	if out > UrgencyCritical {
		out = UrgencyCritical
	}
	return out
}

func (u Urgency) MarshalJSON() ([]byte, error) { return json.Marshal(u.String()) }

func (u *Urgency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseUrgency(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "ROUTINE":
		return UrgencyRoutine, nil
	case "URGENT":
		return UrgencyUrgent, nil
	case "CRITICAL":
		return UrgencyCritical, nil
	case "UNSET", "":
		return UrgencyUnset, nil
	}
	return UrgencyUnset, fmt.Errorf("unknown urgency %q", s)
}

// Stage is an orchestrator state.
type Stage string

const (
	StagePending        Stage = "PENDING"
	StageQualityChecked Stage = "QUALITY_CHECKED"
	StageScored         Stage = "SCORED"
	StageAggregated     Stage = "AGGREGATED"
	StageCorrelated     Stage = "CORRELATED"
	StageDone           Stage = "DONE"
	StageFailed         Stage = "FAILED"
)

// FailureReason is the machine-readable cause of a FAILED result.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonBadSignal     FailureReason = "BAD_SIGNAL"
	ReasonModelFailure  FailureReason = "MODEL_FAILURE"
	ReasonTimeout       FailureReason = "TIMEOUT"
	ReasonInternalError FailureReason = "INTERNAL_ERROR"
)

// StageEvent is one entry of the per-job audit trace.
type StageEvent struct {
	Stage  Stage         `json:"stage"`
	At     time.Time     `json:"at"`
	Took   time.Duration `json:"took"`
	Detail string        `json:"detail,omitempty"`
}

// DiagnosticResult is the only artefact that outlives an AnalysisJob.
type DiagnosticResult struct {
	JobID     string `json:"job_id"`
	PatientID string `json:"patient_id,omitempty"`
	ExamID    string `json:"exam_id,omitempty"`
	Status    Stage  `json:"status"`

	Label      Label   `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
	Urgency    Urgency `json:"urgency"`

	// DeterminingStage names the stage whose output fixed the urgency.
	DeterminingStage Stage      `json:"determining_stage,omitempty"`
	EscalationRules  []string   `json:"escalation_rules,omitempty"`
	Models           []ModelRef `json:"models,omitempty"`
	Degraded         bool       `json:"degraded,omitempty"`

	FailedStage Stage         `json:"failed_stage,omitempty"`
	Reason      FailureReason `json:"reason,omitempty"`
	Message     string        `json:"message,omitempty"`

	Latency     time.Duration `json:"latency"`
	CompletedAt time.Time     `json:"completed_at"`
	Trace       []StageEvent  `json:"trace"`
}

func (r DiagnosticResult) Failed() bool { return r.Status == StageFailed }

func (r DiagnosticResult) Critical() bool {
	return r.Status == StageDone && r.Urgency == UrgencyCritical
}
