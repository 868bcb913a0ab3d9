package domain

import "time"

// SignalSample is a single-lead ECG recording as captured by the acquisition device.
// Samples are amplitudes in millivolts. A SignalSample is never modified after capture.
type SignalSample struct {
	PatientID      string    `json:"patient_id"`
	ExamID         string    `json:"exam_id"`
	Lead           string    `json:"lead"`
	SamplingRateHz float64   `json:"sampling_rate_hz"`
	Samples        []float64 `json:"samples"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Duration reports the recording length implied by the sampling rate.
func (s SignalSample) Duration() time.Duration {
	if s.SamplingRateHz <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / s.SamplingRateHz * float64(time.Second))
}

// EpochFlag marks why a stretch of signal was considered unusable.
type EpochFlag string

const (
	FlagFlatline EpochFlag = "flatline"
	FlagClipped  EpochFlag = "clipped"
	FlagLeadOff  EpochFlag = "lead_off"
)

// EpochQuality is the verdict for one fixed-length stretch of the signal.
type EpochQuality struct {
	Start int         `json:"start"`
	End   int         `json:"end"`
	Flags []EpochFlag `json:"flags,omitempty"`
}

func (e EpochQuality) Usable() bool { return len(e.Flags) == 0 }

// Window is a half-open [Start, End) range of sample indices.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (w Window) Len() int { return w.End - w.Start }

// QualityReport is produced once per signal by the quality gate.
type QualityReport struct {
	NoiseScore   float64        `json:"noise_score"`
	LeadOff      bool           `json:"lead_off"`
	Epochs       []EpochQuality `json:"epochs"`
	UsableWindow Window         `json:"usable_window"`
}

// SignalWindow is the slice of a signal that models are allowed to see. It holds its
// own copy of the samples, so models shared across jobs cannot touch the original.
type SignalWindow struct {
	Lead           string
	SamplingRateHz float64
	Samples        []float64
	Offset         int
}

// NewSignalWindow cuts the usable window out of s.
func NewSignalWindow(s SignalSample, w Window) SignalWindow {
	samples := make([]float64, w.Len())
	copy(samples, s.Samples[w.Start:w.End])
	return SignalWindow{
		Lead:           s.Lead,
		SamplingRateHz: s.SamplingRateHz,
		Samples:        samples,
		Offset:         w.Start,
	}
}
