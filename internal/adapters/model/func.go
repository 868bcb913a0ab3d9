// Package model holds the model variants the inference adapter can call: built-in
// reference scorers and a client for a remote model-serving endpoint.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// ScoreFunc turns a window into a label distribution.
type ScoreFunc func(ctx context.Context, w domain.SignalWindow) (map[domain.Label]float64, error)

// Func pairs a model descriptor with the function that scores for it.
type Func struct {
	Model domain.ModelRef
	Score ScoreFunc
	// Timeout bounds one call; zero leaves the inference adapter's default in place.
	Timeout time.Duration
}

func (f Func) Ref() domain.ModelRef { return f.Model }

func (f Func) CallTimeout() time.Duration { return f.Timeout }

func (f Func) Infer(ctx context.Context, w domain.SignalWindow) (domain.ModelScore, error) {
	if f.Score == nil {
		return domain.ModelScore{}, fmt.Errorf("%w: %s has no scorer", domain.ErrModelUnavailable, f.Model)
	}
	if err := ctx.Err(); err != nil {
		return domain.ModelScore{}, fmt.Errorf("%w: %s: %v", domain.ErrInferenceTimeout, f.Model, err)
	}
	probs, err := f.Score(ctx, w)
	if err != nil {
		return domain.ModelScore{}, err
	}
	return domain.ModelScore{Model: f.Model, Probabilities: probs}, nil
}

var _ ports.Model = Func{}
