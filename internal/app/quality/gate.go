// Package quality decides whether a signal is fit for analysis and which part of it
// models may look at.
package quality

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

// Config holds the gate thresholds.
type Config struct {
	MinWindow       time.Duration `yaml:"min_window"`
	Epoch           time.Duration `yaml:"epoch"`
	MaxNoise        float64       `yaml:"max_noise"`
	FlatlineEpsilon float64       `yaml:"flatline_epsilon"`
	ClipFraction    float64       `yaml:"clip_fraction"`
}

func (c *Config) ApplyDefaults() {
	if c.MinWindow <= 0 {
		c.MinWindow = 5 * time.Second
	}
	if c.Epoch <= 0 {
		c.Epoch = time.Second
	}
	if c.MaxNoise <= 0 {
		c.MaxNoise = 0.5
	}
	if c.FlatlineEpsilon <= 0 {
		c.FlatlineEpsilon = 0.01
	}
	if c.ClipFraction <= 0 {
		c.ClipFraction = 0.25
	}
}

func (c *Config) Validate() error {
	if c.Epoch > c.MinWindow {
		return errors.New("epoch must not exceed min_window")
	}
	if c.MaxNoise > 1 {
		return errors.New("max_noise must be within (0,1]")
	}
	if c.ClipFraction > 1 {
		return errors.New("clip_fraction must be within (0,1]")
	}
	return nil
}

// Gate is a pure function of its input; one Gate is shared by every worker.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	cfg.ApplyDefaults()
	return &Gate{cfg: cfg}
}

// MinSamples is the shortest signal, in samples, that can pass at rate hz.
func (g *Gate) MinSamples(hz float64) int {
	return int(math.Ceil(g.cfg.MinWindow.Seconds() * hz))
}

// Assess grades the signal. Every rejection wraps domain.ErrInsufficientSignal.
func (g *Gate) Assess(s domain.SignalSample) (domain.QualityReport, error) {
	if s.SamplingRateHz <= 0 || math.IsNaN(s.SamplingRateHz) || math.IsInf(s.SamplingRateHz, 0) {
		return domain.QualityReport{}, fmt.Errorf("%w: sampling rate %v", domain.ErrInsufficientSignal, s.SamplingRateHz)
	}
	minSamples := g.MinSamples(s.SamplingRateHz)
	if len(s.Samples) == 0 || len(s.Samples) < minSamples {
		return domain.QualityReport{}, fmt.Errorf("%w: %d samples, need %d", domain.ErrInsufficientSignal, len(s.Samples), minSamples)
	}

	lo, hi := finiteRange(s.Samples)
	epochLen := int(math.Round(g.cfg.Epoch.Seconds() * s.SamplingRateHz))
	if epochLen < 1 {
		epochLen = 1
	}

	report := domain.QualityReport{}
	flagged := 0
	for start := 0; start < len(s.Samples); start += epochLen {
		end := start + epochLen
		if end > len(s.Samples) {
			end = len(s.Samples)
		}
		eq := domain.EpochQuality{Start: start, End: end, Flags: g.flagEpoch(s.Samples[start:end], lo, hi)}
		if !eq.Usable() {
			flagged++
		}
		for _, f := range eq.Flags {
			if f == domain.FlagLeadOff {
				report.LeadOff = true
			}
		}
		report.Epochs = append(report.Epochs, eq)
	}
	report.NoiseScore = float64(flagged) / float64(len(report.Epochs))
	report.UsableWindow = longestUsableRun(report.Epochs)

	if report.NoiseScore > g.cfg.MaxNoise {
		return report, fmt.Errorf("%w: noise score %.2f above %.2f", domain.ErrInsufficientSignal, report.NoiseScore, g.cfg.MaxNoise)
	}
	if report.UsableWindow.Len() < minSamples {
		return report, fmt.Errorf("%w: longest clean window %d samples, need %d", domain.ErrInsufficientSignal, report.UsableWindow.Len(), minSamples)
	}
	return report, nil
}

func (g *Gate) flagEpoch(x []float64, lo, hi float64) []domain.EpochFlag {
	var flags []domain.EpochFlag
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			// Disconnected electrodes surface as non-finite readings.
			return []domain.EpochFlag{domain.FlagLeadOff}
		}
	}
	if stddev(x) < g.cfg.FlatlineEpsilon {
		flags = append(flags, domain.FlagFlatline)
	}
	if hi > lo {
		railed := 0
		for _, v := range x {
			if v == lo || v == hi {
				railed++
			}
		}
		if float64(railed)/float64(len(x)) > g.cfg.ClipFraction {
			flags = append(flags, domain.FlagClipped)
		}
	}
	return flags
}

func longestUsableRun(epochs []domain.EpochQuality) domain.Window {
	var best, cur domain.Window
	inRun := false
	for _, e := range epochs {
		if !e.Usable() {
			inRun = false
			continue
		}
		if !inRun {
			cur = domain.Window{Start: e.Start, End: e.End}
			inRun = true
		} else {
			cur.End = e.End
		}
		if cur.Len() > best.Len() {
			best = cur
		}
	}
	return best
}

func finiteRange(x []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func stddev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))
	var ss float64
	for _, v := range x {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(x)))
}
