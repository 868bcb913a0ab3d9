package ecgflow

import (
	"github.com/drguilhermecapel/ecgflow/internal/adapters/mqtt"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/observability"
	"github.com/drguilhermecapel/ecgflow/internal/app/config"
	"github.com/drguilhermecapel/ecgflow/internal/app/correlate"
	"github.com/drguilhermecapel/ecgflow/internal/app/quality"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls the worker pool, queue bound and time budgets.
	Policy = ports.Policy
	// QualityConfig tunes the signal quality gate.
	QualityConfig = quality.Config
	// ModelConfig declares one model build.
	ModelConfig = config.ModelConfig
	// CorrelationConfig holds the urgency thresholds.
	CorrelationConfig = correlate.Config
	// ResultsConfig points the result store at PostgreSQL.
	ResultsConfig = config.ResultsConfig
	// JournalConfig configures the on-disk result journal.
	JournalConfig = config.JournalConfig
	// MQTTConfig configures signal ingestion and alert publishing.
	MQTTConfig = mqtt.Config
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// TracingConfig selects the OpenTelemetry exporter.
	TracingConfig = observability.TracingConfig
	// LogConfig selects log level and format.
	LogConfig = config.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig needs no database or broker and scores with the built-in models.
func DefaultConfig() *Config {
	return config.Default()
}
