package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/drguilhermecapel/ecgflow"
	"github.com/drguilhermecapel/ecgflow/internal/synth"
)

// Analyzes a few synthetic recordings in-process and prints each result as it lands.
func main() {
	cfg := ecgflow.DefaultConfig()
	cfg.Metrics.Disabled = true
	cfg.Journal.Disabled = true

	printer := func(_ context.Context, r ecgflow.DiagnosticResult) error {
		if r.Status == ecgflow.StageFailed {
			fmt.Printf("%s exam=%s FAILED reason=%s: %s\n", r.CompletedAt.Format(time.RFC3339), r.ExamID, r.Reason, r.Message)
			return nil
		}
		fmt.Printf("%s exam=%s label=%s confidence=%.2f urgency=%s\n",
			r.CompletedAt.Format(time.RFC3339), r.ExamID, r.Label, r.Confidence, r.Urgency)
		return nil
	}
	alert := ecgflow.AlertFunc(func(_ context.Context, r ecgflow.DiagnosticResult) error {
		fmt.Printf("!! CRITICAL %s for patient %s\n", r.Label, r.PatientID)
		return nil
	})

	flow, err := ecgflow.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	rt, err := flow.StreamOUT(ecgflow.StreamOutCallback("stdout", printer), ecgflow.StreamOutAlerts(alert))
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}

	recordings := map[string]synth.Params{
		"normal": {},
		"stemi":  {STElevation: 0.3},
		"brady":  {HeartRateBPM: 45},
	}
	var handles []*ecgflow.Handle
	for name, p := range recordings {
		sig := synth.Signal(p)
		sig.PatientID, sig.ExamID = "p-"+name, name
		h, err := rt.Submit(sig, &ecgflow.ClinicalContext{AgeYears: 68}, time.Time{})
		if err != nil {
			log.Fatalf("submit %s: %v", name, err)
		}
		handles = append(handles, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, h := range handles {
		if _, err := h.Await(ctx); err != nil {
			log.Printf("await %s: %v", h.ID(), err)
		}
	}
	if err := rt.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
