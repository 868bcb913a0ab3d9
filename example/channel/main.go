package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/drguilhermecapel/ecgflow"
)

func main() {
	flow, err := ecgflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, results, closeResults := ecgflow.NewChannelSink("worklist", 32)
	defer closeResults()

	go worklist(results)

	if err := flow.Run(ctx, ecgflow.StreamOutSink(sink)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

// worklist triages results the way a reading-room queue would.
func worklist(results <-chan ecgflow.DiagnosticResult) {
	for r := range results {
		switch {
		case r.Status == ecgflow.StageFailed:
			fmt.Printf("[resubmit] exam=%s reason=%s\n", r.ExamID, r.Reason)
		case r.Urgency >= ecgflow.UrgencyUrgent:
			fmt.Printf("[read now] exam=%s %s (%.2f) %s\n", r.ExamID, r.Label, r.Confidence, r.Urgency)
		default:
			fmt.Printf("[routine]  exam=%s %s (%.2f)\n", r.ExamID, r.Label, r.Confidence)
		}
	}
}
