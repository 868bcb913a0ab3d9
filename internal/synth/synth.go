// Package synth renders deterministic single-lead ECG waveforms from a sum of Gaussian
// waves. It backs the demo mode of the CLI and the package tests.
package synth

import (
	"math"
	"math/rand"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

type Params struct {
	HeartRateBPM   float64
	Duration       time.Duration
	SamplingRateHz float64
	// Irregularity is the relative RR jitter; values around 0.25 read as AF.
	Irregularity float64
	// STElevation in mV is added after the QRS complex.
	STElevation float64
	// WideQRS stretches the QRS complex as in ventricular rhythms.
	WideQRS bool
	// PrematureEvery inserts a premature beat with a compensatory pause every n beats.
	PrematureEvery int
	NoiseMV        float64
	Seed           int64
}

func (p *Params) applyDefaults() {
	if p.HeartRateBPM <= 0 {
		p.HeartRateBPM = 72
	}
	if p.Duration <= 0 {
		p.Duration = 10 * time.Second
	}
	if p.SamplingRateHz <= 0 {
		p.SamplingRateHz = 250
	}
	if p.NoiseMV <= 0 {
		p.NoiseMV = 0.01
	}
	if p.Seed == 0 {
		p.Seed = 1
	}
}

type wave struct {
	offset, amp, width float64
}

// Signal renders a lead II recording.
func Signal(p Params) domain.SignalSample {
	p.applyDefaults()
	rng := rand.New(rand.NewSource(p.Seed))

	n := int(p.Duration.Seconds() * p.SamplingRateHz)
	x := make([]float64, n)

	qrsScale := 1.0
	if p.WideQRS {
		qrsScale = 3.5
	}
	waves := []wave{
		{-0.03, -0.15, 0.010 * qrsScale},
		{0, 1.2, 0.012 * qrsScale},
		{0.03 * qrsScale, -0.3, 0.010 * qrsScale},
		{0.30, 0.30, 0.040},
	}
	if p.Irregularity < 0.1 && !p.WideQRS {
		waves = append(waves, wave{-0.2, 0.15, 0.025})
	}
	if p.STElevation != 0 {
		waves = append(waves, wave{0.14, p.STElevation, 0.045})
	}

	rr := 60 / p.HeartRateBPM
	var beats []float64
	for t, i := 0.4, 0; t < p.Duration.Seconds(); i++ {
		beats = append(beats, t)
		next := rr * (1 + p.Irregularity*(2*rng.Float64()-1))
		if p.PrematureEvery > 0 && i%p.PrematureEvery == p.PrematureEvery-1 {
			// premature beat followed by a compensatory pause
			beats = append(beats, t+0.6*rr)
			next = 2 * rr
		}
		t += next
	}

	for i := range x {
		t := float64(i) / p.SamplingRateHz
		v := 0.05 * math.Sin(2*math.Pi*0.25*t)
		for _, b := range beats {
			d := t - b
			if d < -0.5 || d > 0.7 {
				continue
			}
			for _, w := range waves {
				z := (d - w.offset) / w.width
				v += w.amp * math.Exp(-0.5*z*z)
			}
		}
		x[i] = v + p.NoiseMV*rng.NormFloat64()
	}

	return domain.SignalSample{
		PatientID:      "synthetic",
		ExamID:         "synthetic",
		Lead:           "II",
		SamplingRateHz: p.SamplingRateHz,
		Samples:        x,
		CapturedAt:     time.Unix(0, 0).UTC(),
	}
}

// Flatline renders a disconnected-lead recording.
func Flatline(d time.Duration, hz float64) domain.SignalSample {
	return domain.SignalSample{
		PatientID:      "synthetic",
		ExamID:         "synthetic",
		Lead:           "II",
		SamplingRateHz: hz,
		Samples:        make([]float64, int(d.Seconds()*hz)),
	}
}
