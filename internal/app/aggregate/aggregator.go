// Package aggregate fuses per-model distributions into a single diagnosis.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

// tieQuantum is the resolution at which averages are compared. Quantizing once keeps
// the ordering transitive, so the winner does not depend on map iteration order.
const tieQuantum = 1e-9

var ErrNoScores = errors.New("aggregate: no model scores")

// Aggregator is safe for concurrent use; its weights are fixed at construction.
type Aggregator struct {
	weights map[string]float64
}

// New takes trust weights keyed by "id@version" or by bare model id.
func New(weights map[string]float64) (*Aggregator, error) {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		if k == "" {
			return nil, errors.New("aggregate: empty weight key")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("aggregate: invalid weight %v for %q", v, k)
		}
		w[k] = v
	}
	return &Aggregator{weights: w}, nil
}

// Weight resolves the trust weight of a model build.
func (a *Aggregator) Weight(ref domain.ModelRef) float64 {
	if w, ok := a.weights[ref.String()]; ok {
		return w
	}
	if w, ok := a.weights[ref.ID]; ok {
		return w
	}
	return 1.0
}

type candidate struct {
	label domain.Label
	avg   float64
	rank  float64 // avg quantized to tieQuantum
	max   float64
}

// Aggregate picks the label with the highest weighted average over the models that
// reported it. Confidence never exceeds the highest raw probability of that label.
func (a *Aggregator) Aggregate(scores []domain.ModelScore) (domain.AggregatedDiagnosis, error) {
	if len(scores) == 0 {
		return domain.AggregatedDiagnosis{}, ErrNoScores
	}

	type acc struct {
		sum, weight, max float64
	}
	sums := make(map[domain.Label]*acc)
	for _, s := range scores {
		w := a.Weight(s.Model)
		for label, p := range s.Probabilities {
			if math.IsNaN(p) {
				continue
			}
			c, ok := sums[label]
			if !ok {
				c = &acc{}
				sums[label] = c
			}
			c.sum += w * p
			c.weight += w
			c.max = math.Max(c.max, p)
		}
	}

	cands := make([]candidate, 0, len(sums))
	for label, c := range sums {
		if c.weight == 0 {
			continue
		}
		avg := c.sum / c.weight
		cands = append(cands, candidate{label: label, avg: avg, rank: math.Round(avg / tieQuantum), max: c.max})
	}
	if len(cands) == 0 {
		return domain.AggregatedDiagnosis{}, fmt.Errorf("%w: every contributing weight is zero", ErrNoScores)
	}

	sort.Slice(cands, func(i, j int) bool { return better(cands[i], cands[j]) })
	best := cands[0]

	conf := math.Min(best.avg, best.max)
	conf = math.Min(1, math.Max(0, conf))

	contributing := make([]domain.ModelScore, len(scores))
	copy(contributing, scores)

	return domain.AggregatedDiagnosis{
		Label:        best.label,
		Confidence:   conf,
		Contributing: contributing,
	}, nil
}

// better orders by average, then severity rank, then label name.
func better(x, y candidate) bool {
	if x.rank != y.rank {
		return x.rank > y.rank
	}
	if xs, ys := x.label.Severity(), y.label.Severity(); xs != ys {
		return xs > ys
	}
	return x.label < y.label
}
