package model

import (
	"context"
	"fmt"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

// BuiltinVersion tags the reference scorers shipped with this module.
const BuiltinVersion = "ref-1"

const minBeats = 3

// NewBuiltin returns the named reference scorer: "rhythm", "anomaly" or "acute_event".
func NewBuiltin(name, id, version string) (Func, error) {
	if version == "" {
		version = BuiltinVersion
	}
	var (
		capability domain.Capability
		score      ScoreFunc
	)
	switch domain.Capability(name) {
	case domain.CapabilityRhythm:
		capability, score = domain.CapabilityRhythm, scoreRhythm
	case domain.CapabilityAnomaly:
		capability, score = domain.CapabilityAnomaly, scoreAnomaly
	case domain.CapabilityAcuteEvent:
		capability, score = domain.CapabilityAcuteEvent, scoreAcuteEvent
	default:
		return Func{}, fmt.Errorf("unknown builtin model %q", name)
	}
	if id == "" {
		id = "builtin-" + name
	}
	return Func{
		Model: domain.ModelRef{ID: id, Version: version, Capability: capability},
		Score: score,
	}, nil
}

func beatsOrUnavailable(w domain.SignalWindow) (beatFeatures, error) {
	f := extractBeats(w.Samples, w.SamplingRateHz)
	if len(f.peaks) < minBeats {
		return f, fmt.Errorf("%w: %d beats detected, need %d", domain.ErrModelUnavailable, len(f.peaks), minBeats)
	}
	return f, nil
}

// scoreRhythm separates AF (irregular RR) from regular rhythms, then splits regular
// rhythms by rate.
func scoreRhythm(_ context.Context, w domain.SignalWindow) (map[domain.Label]float64, error) {
	f, err := beatsOrUnavailable(w)
	if err != nil {
		return nil, err
	}
	af := sigmoid((f.rrCV - 0.08) / 0.02)
	brady := sigmoid((55 - f.heartRate) / 3)
	tachy := sigmoid((f.heartRate - 105) / 5)

	regular := 1 - af
	pBrady := regular * brady
	pTachy := regular * tachy * (1 - brady)
	return map[domain.Label]float64{
		domain.LabelAtrialFibrillation: af,
		domain.LabelSinusBradycardia:   pBrady,
		domain.LabelSinusTachycardia:   pTachy,
		domain.LabelNormal:             regular - pBrady - pTachy,
	}, nil
}

// scoreAnomaly looks for premature beats with a compensatory pause and for fast
// wide-complex rhythms.
func scoreAnomaly(_ context.Context, w domain.SignalWindow) (map[domain.Label]float64, error) {
	f, err := beatsOrUnavailable(w)
	if err != nil {
		return nil, err
	}
	med := median(f.rr)
	premature := 0
	for i := 0; i+1 < len(f.rr); i++ {
		if f.rr[i] < 0.8*med && f.rr[i+1] > 1.15*med {
			premature++
		}
	}
	fraction := float64(premature) / float64(len(f.peaks))

	vt := sigmoid((f.heartRate-140)/6) * sigmoid((f.qrsWidth-0.06)/0.01)
	pvc := (1 - vt) * sigmoid((fraction-0.05)/0.02)
	return map[domain.Label]float64{
		domain.LabelVentricularTachycardia: vt,
		domain.LabelPrematureVentricular:   pvc,
		domain.LabelNormal:                 1 - vt - pvc,
	}, nil
}

// scoreAcuteEvent grades ST elevation measured 80–120ms after each R-peak.
func scoreAcuteEvent(_ context.Context, w domain.SignalWindow) (map[domain.Label]float64, error) {
	f, err := beatsOrUnavailable(w)
	if err != nil {
		return nil, err
	}
	stemi := sigmoid((f.stLevel - 0.1) / 0.025)
	return map[domain.Label]float64{
		domain.LabelSTEMI:  stemi,
		domain.LabelNormal: 1 - stemi,
	}, nil
}
