package model

import (
	"math"
	"sort"
)

// beatFeatures summarises the R-peaks found in a window.
type beatFeatures struct {
	peaks     []int
	rr        []float64 // seconds
	heartRate float64
	rrCV      float64
	qrsWidth  float64 // seconds, median over beats
	stLevel   float64 // mV, median J+80ms level against the PR baseline
}

const (
	refractory    = 0.25 // seconds
	minRAmplitude = 0.1  // mV above the median
)

func extractBeats(x []float64, hz float64) beatFeatures {
	var f beatFeatures
	if len(x) == 0 || hz <= 0 {
		return f
	}

	base := median(x)
	top := percentile(x, 99)
	if top-base < minRAmplitude {
		return f
	}
	threshold := base + 0.5*(top-base)
	minGap := int(refractory * hz)

	for i := 1; i < len(x)-1; i++ {
		if x[i] < threshold || x[i] < x[i-1] || x[i] < x[i+1] {
			continue
		}
		if n := len(f.peaks); n > 0 && i-f.peaks[n-1] < minGap {
			if x[i] > x[f.peaks[n-1]] {
				f.peaks[n-1] = i
			}
			continue
		}
		f.peaks = append(f.peaks, i)
	}

	for i := 1; i < len(f.peaks); i++ {
		f.rr = append(f.rr, float64(f.peaks[i]-f.peaks[i-1])/hz)
	}
	if len(f.rr) > 0 {
		m := mean(f.rr)
		f.heartRate = 60 / m
		f.rrCV = stddev(f.rr) / m
	}

	widths := make([]float64, 0, len(f.peaks))
	levels := make([]float64, 0, len(f.peaks))
	for _, p := range f.peaks {
		widths = append(widths, halfAmplitudeWidth(x, p, base)/hz)
		if lvl, ok := stDeviation(x, p, hz); ok {
			levels = append(levels, lvl)
		}
	}
	if len(widths) > 0 {
		f.qrsWidth = median(widths)
	}
	if len(levels) > 0 {
		f.stLevel = median(levels)
	}
	return f
}

func halfAmplitudeWidth(x []float64, peak int, base float64) float64 {
	half := base + (x[peak]-base)/2
	l, r := peak, peak
	for l > 0 && x[l-1] >= half {
		l--
	}
	for r < len(x)-1 && x[r+1] >= half {
		r++
	}
	return float64(r - l + 1)
}

// stDeviation compares the level 80–120ms after the R-peak with the PR segment
// 80–40ms before it.
func stDeviation(x []float64, peak int, hz float64) (float64, bool) {
	at := func(sec float64) int { return peak + int(math.Round(sec*hz)) }
	prFrom, prTo := at(-0.08), at(-0.04)
	stFrom, stTo := at(0.08), at(0.12)
	if prFrom < 0 || stTo >= len(x) || prTo <= prFrom || stTo <= stFrom {
		return 0, false
	}
	return mean(x[stFrom:stTo]) - median(x[prFrom:prTo]), true
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func stddev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := mean(x)
	var ss float64
	for _, v := range x {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(x)))
}

func median(x []float64) float64 { return percentile(x, 50) }

func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower, upper := int(math.Floor(idx)), int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}
	w := idx - float64(lower)
	return sorted[lower]*(1-w) + sorted[upper]*w
}
