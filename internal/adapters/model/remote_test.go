package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
)

func TestRemoteInfer(t *testing.T) {
	var got inferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/models/stemi-net:infer" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(inferResponse{
			ModelID:       "stemi-net",
			Version:       "2024.2",
			Probabilities: map[string]float64{"stemi": 0.91, "normal": 0.09},
		})
	}))
	defer srv.Close()

	m, err := NewRemote(domain.ModelRef{ID: "stemi-net", Version: "2024.1", Capability: domain.CapabilityAcuteEvent}, srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	w := domain.SignalWindow{Lead: "V2", SamplingRateHz: 500, Samples: []float64{0.1, 0.2, 0.3}}
	score, err := m.Infer(context.Background(), w)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if got.Lead != "V2" || got.SamplingRateHz != 500 || len(got.Samples) != 3 {
		t.Fatalf("unexpected request payload %+v", got)
	}
	if score.Model.Version != "2024.2" {
		t.Fatalf("expected serving-side version to be recorded, got %s", score.Model.Version)
	}
	if score.Probabilities[domain.LabelSTEMI] != 0.91 {
		t.Fatalf("unexpected probabilities %v", score.Probabilities)
	}
}

func TestRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, _ := NewRemote(domain.ModelRef{ID: "rhythm"}, srv.URL, time.Second)
	if _, err := m.Infer(context.Background(), domain.SignalWindow{}); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestRemoteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m, _ := NewRemote(domain.ModelRef{ID: "slow"}, srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Infer(ctx, domain.SignalWindow{}); !errors.Is(err, domain.ErrInferenceTimeout) {
		t.Fatalf("expected ErrInferenceTimeout, got %v", err)
	}
}

func TestNewRemoteValidatesEndpoint(t *testing.T) {
	if _, err := NewRemote(domain.ModelRef{ID: "x"}, "not a url", 0); err == nil {
		t.Fatalf("expected invalid endpoint error")
	}
	if _, err := NewRemote(domain.ModelRef{}, "http://localhost:8000", 0); err == nil {
		t.Fatalf("expected missing id error")
	}
}
