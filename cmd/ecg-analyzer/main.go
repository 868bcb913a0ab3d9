package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/drguilhermecapel/ecgflow"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/journal"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/sink"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
	"github.com/drguilhermecapel/ecgflow/internal/synth"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "analyze":
		err = analyzeCommand(os.Args[2:])
	case "audit":
		err = auditCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("ecg-analyzer %s: %v", cmd, err)
	}
}

func loadConfig(path string) (*ecgflow.Config, error) {
	if path == "" {
		return ecgflow.DefaultConfig(), nil
	}
	return ecgflow.LoadConfig(path)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to analyzer configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := ecgflow.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := ecgflow.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d models, pool=%d queue=%d (%s)\n",
		*cfgPath, len(cfg.Models), cfg.Policy.PoolSize, cfg.Policy.QueueSize, cfg.Policy.QueueOrder)
	return nil
}

// analyzeInput is the file format accepted by analyze -input.
type analyzeInput struct {
	Signal  ecgflow.SignalSample     `json:"signal"`
	Context *ecgflow.ClinicalContext `json:"context,omitempty"`
}

func analyzeCommand(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Optional configuration file (defaults to built-in models, no database)")
	input := fs.String("input", "", "JSON file with {\"signal\": ..., \"context\": ...}")
	demo := fs.String("demo", "stemi", "Synthetic rhythm when -input is empty: normal, stemi, af, vt, brady, flatline")
	age := fs.Int("age", 0, "Patient age for the synthetic context")
	timeout := fs.Duration("timeout", 0, "Job deadline (0 uses the configured budget)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Metrics.Disabled = true
	cfg.MQTT.Broker = ""

	var in analyzeInput
	if *input != "" {
		raw, err := os.ReadFile(*input)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("decode %s: %w", *input, err)
		}
	} else {
		sig, err := demoSignal(*demo)
		if err != nil {
			return err
		}
		in.Signal = sig
		if *age > 0 {
			in.Context = &ecgflow.ClinicalContext{AgeYears: *age}
		}
	}

	discard := ecgflow.NewCallbackSink("discard", func(context.Context, ecgflow.DiagnosticResult) error {
		return nil
	})
	rt, err := ecgflow.NewRuntime(cfg,
		ecgflow.WithSink(discard),
		ecgflow.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
	)
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var deadline time.Time
	if *timeout > 0 {
		deadline = time.Now().Add(*timeout)
	}
	res, err := rt.Analyze(ctx, in.Signal, in.Context, deadline)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Policy.JobBudget)
	defer cancel()
	if serr := rt.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func demoSignal(name string) (ecgflow.SignalSample, error) {
	var sig ecgflow.SignalSample
	switch name {
	case "normal":
		sig = synth.Signal(synth.Params{})
	case "stemi":
		sig = synth.Signal(synth.Params{STElevation: 0.3})
	case "af":
		sig = synth.Signal(synth.Params{HeartRateBPM: 110, Irregularity: 0.25})
	case "vt":
		sig = synth.Signal(synth.Params{HeartRateBPM: 180, WideQRS: true})
	case "brady":
		sig = synth.Signal(synth.Params{HeartRateBPM: 45})
	case "flatline":
		sig = synth.Flatline(10*time.Second, 250)
	default:
		return sig, fmt.Errorf("unknown demo rhythm %q", name)
	}
	sig.PatientID = "demo"
	sig.ExamID = "demo-" + name
	return sig, nil
}

func auditCommand(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Configuration file; its journal dir and results database are used")
	dir := fs.String("dir", "", "Journal directory (overrides the config)")
	from := fs.Uint64("from", 0, "First journal entry to print")
	summary := fs.Bool("summary", false, "Print counts by status and urgency instead of every result")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dir == "" {
		*dir = cfg.Journal.Dir
	}

	j, err := journal.Open(*dir)
	if err != nil {
		return err
	}
	defer j.Close()

	counts := map[string]int64{}
	enc := json.NewEncoder(os.Stdout)
	err = j.Iterate(ports.JournalEntryID(*from), func(id ports.JournalEntryID, r ecgflow.DiagnosticResult) error {
		if *summary {
			counts[string(r.Status)+"/"+r.Urgency.String()]++
			return nil
		}
		return enc.Encode(struct {
			Entry  ports.JournalEntryID     `json:"entry"`
			Result ecgflow.DiagnosticResult `json:"result"`
		}{id, r})
	})
	if err != nil {
		return err
	}

	if !*summary {
		return nil
	}
	stats := j.Stats()
	fmt.Printf("journal %s: %d entries, %d bytes\n", *dir, stats.Entries, stats.SizeBytes)
	printCounts(counts)

	if cfg.Results.ConnString == "" {
		return nil
	}
	db, err := sql.Open("postgres", cfg.Results.ConnString)
	if err != nil {
		return err
	}
	defer db.Close()
	pg, err := sink.NewPostgresSink(db, cfg.Results.Table)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbCounts, err := pg.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("results database: %w", err)
	}
	fmt.Printf("table %s:\n", cfg.Results.Table)
	printCounts(dbCounts)
	return nil
}

func printCounts(counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, counts[k])
	}
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return err
	}

	fmt.Printf("[%s] submitted=%.0f rejected=%.0f critical=%.0f queue=%.0f in_flight=%.0f model_failures=%.0f\n",
		time.Now().Format(time.RFC3339),
		sumMetric(families["ecg_jobs_submitted_total"]),
		sumMetric(families["ecg_jobs_rejected_total"]),
		sumMetric(families["ecg_critical_alerts_total"]),
		sumMetric(families["ecg_queue_length"]),
		sumMetric(families["ecg_jobs_in_flight"]),
		sumMetric(families["ecg_model_failures_total"]),
	)
	return nil
}

func sumMetric(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

func printUsage() {
	fmt.Printf(`ecgflow CLI

Usage:
  ecg-analyzer <command> [flags]

Commands:
  run        Start the analyzer runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  analyze    Analyze one recording (JSON file or synthetic demo) and print the result
  audit      Replay the result journal, optionally with a status summary
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  ecg-analyzer run -config ./data/config.yaml
  ecg-analyzer validate -config ./data/config.yaml
  ecg-analyzer analyze -demo stemi -age 80
  ecg-analyzer audit -config ./data/config.yaml -summary
  ecg-analyzer stats -url http://localhost:9100/metrics -interval 1s
`)
}
