package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, NewLogger(&bytes.Buffer{}, "json", "info"))

	obs.IncCounter("ecg_jobs_submitted_total", 5)
	if got := testutil.ToFloat64(obs.counters["ecg_jobs_submitted_total"]); got != 5 {
		t.Fatalf("expected submitted counter 5, got %f", got)
	}

	obs.IncCounter("ecg_jobs_rejected_total", 2)
	if got := testutil.ToFloat64(obs.counters["ecg_jobs_rejected_total"]); got != 2 {
		t.Fatalf("expected rejected counter 2, got %f", got)
	}

	obs.IncCounter("does_not_exist", 1)

	obs.SetGauge("ecg_queue_length", 42)
	if got := testutil.ToFloat64(obs.gauges["ecg_queue_length"]); got != 42 {
		t.Fatalf("expected queue gauge 42, got %f", got)
	}

	obs.ObserveLatency("ecg_inference_latency_seconds", 0.5)
	hCollector := obs.histos["ecg_inference_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}
}

func TestPromObsRecordResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	obs := NewPromObs(reg, NewLogger(&logs, "json", "info"))

	obs.RecordResult(domain.DiagnosticResult{
		JobID:   "ok",
		Status:  domain.StageDone,
		Urgency: domain.UrgencyCritical,
		Latency: 20 * time.Millisecond,
	})
	obs.RecordResult(domain.DiagnosticResult{
		JobID:       "bad",
		Status:      domain.StageFailed,
		FailedStage: domain.StagePending,
		Reason:      domain.ReasonBadSignal,
	})

	if got := testutil.ToFloat64(obs.results.WithLabelValues("DONE", "", "CRITICAL")); got != 1 {
		t.Fatalf("expected one critical DONE result, got %f", got)
	}
	if got := testutil.ToFloat64(obs.results.WithLabelValues("FAILED", "BAD_SIGNAL", "UNSET")); got != 1 {
		t.Fatalf("expected one BAD_SIGNAL result, got %f", got)
	}
	if !strings.Contains(logs.String(), `"reason":"BAD_SIGNAL"`) {
		t.Fatalf("expected failed job to be logged, got %s", logs.String())
	}
}

func TestPromObsLogFields(t *testing.T) {
	var logs bytes.Buffer
	obs := NewPromObs(prometheus.NewRegistry(), NewLogger(&logs, "json", "debug"))

	obs.LogCritical("alert_failed", errors.New("broker down"), ports.Field{Key: "job_id", Value: "j-1"})

	out := logs.String()
	for _, want := range []string{`"msg":"alert_failed"`, `"job_id":"j-1"`, `"critical":true`, `"error":"broker down"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output %s", want, out)
		}
	}
}
