package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

type inferRequest struct {
	ModelID        string    `json:"model_id"`
	Version        string    `json:"version,omitempty"`
	Lead           string    `json:"lead"`
	SamplingRateHz float64   `json:"sampling_rate_hz"`
	Samples        []float64 `json:"samples"`
}

type inferResponse struct {
	ModelID       string             `json:"model_id"`
	Version       string             `json:"version"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Remote calls a model-serving collaborator over HTTP. Loading and versioning of the
// model stay on the serving side; the response version is recorded in the score.
type Remote struct {
	ref        domain.ModelRef
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewRemote builds a client for POST {endpoint}/v1/models/{id}:infer. timeout bounds
// each call; the inference adapter enforces it and it also caps the transport.
func NewRemote(ref domain.ModelRef, endpoint string, timeout time.Duration) (*Remote, error) {
	if ref.ID == "" {
		return nil, errors.New("remote model id is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote model %s: invalid endpoint %q", ref.ID, endpoint)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		ref:      ref,
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (r *Remote) Ref() domain.ModelRef { return r.ref }

func (r *Remote) CallTimeout() time.Duration { return r.timeout }

func (r *Remote) Infer(ctx context.Context, w domain.SignalWindow) (domain.ModelScore, error) {
	body, err := json.Marshal(inferRequest{
		ModelID:        r.ref.ID,
		Version:        r.ref.Version,
		Lead:           w.Lead,
		SamplingRateHz: w.SamplingRateHz,
		Samples:        w.Samples,
	})
	if err != nil {
		return domain.ModelScore{}, fmt.Errorf("marshal infer request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/models/%s:infer", r.endpoint, url.PathEscape(r.ref.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return domain.ModelScore{}, fmt.Errorf("build infer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return domain.ModelScore{}, fmt.Errorf("%w: %s: %v", domain.ErrInferenceTimeout, r.ref, err)
		}
		return domain.ModelScore{}, fmt.Errorf("%w: %s: %v", domain.ErrModelUnavailable, r.ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ModelScore{}, fmt.Errorf("%w: %s returned %d: %s", domain.ErrModelUnavailable, r.ref, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ModelScore{}, fmt.Errorf("%w: %s: decode response: %v", domain.ErrModelUnavailable, r.ref, err)
	}

	ref := r.ref
	if out.Version != "" {
		ref.Version = out.Version
	}
	probs := make(map[domain.Label]float64, len(out.Probabilities))
	for label, p := range out.Probabilities {
		probs[domain.Label(label)] = p
	}
	return domain.ModelScore{Model: ref, Probabilities: probs}, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

var _ ports.Model = (*Remote)(nil)
