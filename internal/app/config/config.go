package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drguilhermecapel/ecgflow/internal/adapters/mqtt"
	"github.com/drguilhermecapel/ecgflow/internal/adapters/observability"
	"github.com/drguilhermecapel/ecgflow/internal/app/correlate"
	"github.com/drguilhermecapel/ecgflow/internal/app/quality"
	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

type Config struct {
	Policy      ports.Policy                `yaml:"policy"`
	Quality     quality.Config              `yaml:"quality"`
	Models      []ModelConfig               `yaml:"models"`
	Correlation correlate.Config            `yaml:"correlation"`
	Results     ResultsConfig               `yaml:"results"`
	Journal     JournalConfig               `yaml:"journal"`
	MQTT        mqtt.Config                 `yaml:"mqtt"`
	Metrics     MetricsConfig               `yaml:"metrics"`
	Tracing     observability.TracingConfig `yaml:"tracing"`
	Log         LogConfig                   `yaml:"log"`
}

// ModelConfig declares one model build. Kind "builtin" selects a reference scorer by
// name; kind "remote" calls a model-serving endpoint.
type ModelConfig struct {
	ID         string        `yaml:"id"`
	Kind       string        `yaml:"kind"`
	Builtin    string        `yaml:"builtin"`
	Capability string        `yaml:"capability"`
	Version    string        `yaml:"version"`
	Weight     *float64      `yaml:"weight"`
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Ref is the descriptor the model will report before its first call.
func (m ModelConfig) Ref() domain.ModelRef {
	return domain.ModelRef{ID: m.ID, Version: m.Version, Capability: domain.Capability(m.Capability)}
}

type ResultsConfig struct {
	ConnString   string `yaml:"conn_string"`
	Table        string `yaml:"table"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type JournalConfig struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

type MetricsConfig struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills unset fields with defaults and validates the result. Configs built in
// code go through it before use.
func (c *Config) Normalize() error {
	c.applyDefaults()
	return c.validate()
}

// Default is the configuration used when no file is given: the built-in models, no
// database and no broker.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Policy.PoolSize == 0 {
		c.Policy.PoolSize = 8
	}
	if c.Policy.QueueSize == 0 {
		c.Policy.QueueSize = 64
	}
	if c.Policy.QueueOrder == "" {
		c.Policy.QueueOrder = "fifo"
	}
	if c.Policy.JobBudget == 0 {
		c.Policy.JobBudget = 30 * time.Second
	}
	if c.Policy.ModelTimeout == 0 {
		c.Policy.ModelTimeout = 5 * time.Second
	}
	if c.Policy.RetryTimeout == 0 {
		c.Policy.RetryTimeout = 2 * time.Second
	}
	if c.Policy.OnBackpressure == "" {
		c.Policy.OnBackpressure = "drop"
	}
	if c.Policy.RetryBackoff == 0 {
		c.Policy.RetryBackoff = 50 * time.Millisecond
	}

	c.Quality.ApplyDefaults()
	c.Correlation.ApplyDefaults()

	if len(c.Models) == 0 {
		for _, name := range []string{"rhythm", "anomaly", "acute_event"} {
			c.Models = append(c.Models, ModelConfig{Kind: "builtin", Builtin: name})
		}
	}
	for i := range c.Models {
		m := &c.Models[i]
		if m.Kind == "" {
			m.Kind = "builtin"
		}
		if m.Kind == "builtin" {
			if m.ID == "" {
				m.ID = "builtin-" + m.Builtin
			}
			if m.Capability == "" {
				m.Capability = m.Builtin
			}
		}
		if m.Timeout == 0 {
			m.Timeout = c.Policy.ModelTimeout
		}
	}

	if c.Results.Table == "" {
		c.Results.Table = "diagnostic_results"
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "./data/journal"
	}
	if c.MQTT.Enabled() {
		c.MQTT.ApplyDefaults()
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	c.Tracing.ApplyDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) validate() error {
	p := c.Policy
	if p.PoolSize < 1 {
		return fmt.Errorf("policy.pool_size must be >= 1")
	}
	if p.QueueSize < 1 {
		return fmt.Errorf("policy.queue_size must be >= 1")
	}
	switch p.QueueOrder {
	case "fifo", "deadline":
	default:
		return fmt.Errorf("policy.queue_order must be fifo or deadline, got %q", p.QueueOrder)
	}
	switch p.OnBackpressure {
	case "drop", "retry":
	default:
		return fmt.Errorf("policy.on_backpressure must be drop or retry, got %q", p.OnBackpressure)
	}
	if p.RetryTimeout > p.ModelTimeout {
		return fmt.Errorf("policy.retry_timeout (%s) must not exceed model_timeout (%s)", p.RetryTimeout, p.ModelTimeout)
	}
	if p.ModelTimeout > p.JobBudget {
		return fmt.Errorf("policy.model_timeout (%s) must not exceed job_budget (%s)", p.ModelTimeout, p.JobBudget)
	}

	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality config: %w", err)
	}
	if err := c.Correlation.Validate(); err != nil {
		return fmt.Errorf("correlation config: %w", err)
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if c.MQTT.Enabled() {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	if !c.Metrics.Disabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) validateModels() error {
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d].id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("models[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true

		if !domain.Capability(m.Capability).Valid() {
			return fmt.Errorf("models[%d] (%s): unknown capability %q", i, m.ID, m.Capability)
		}
		switch m.Kind {
		case "builtin":
			if !domain.Capability(m.Builtin).Valid() {
				return fmt.Errorf("models[%d] (%s): unknown builtin %q", i, m.ID, m.Builtin)
			}
		case "remote":
			if m.Endpoint == "" {
				return fmt.Errorf("models[%d] (%s): endpoint is required for remote models", i, m.ID)
			}
		default:
			return fmt.Errorf("models[%d] (%s): kind must be builtin or remote, got %q", i, m.ID, m.Kind)
		}
		if m.Weight != nil && *m.Weight < 0 {
			return fmt.Errorf("models[%d] (%s): weight must be >= 0", i, m.ID)
		}
		if m.Timeout < 0 || m.Timeout > c.Policy.JobBudget {
			return fmt.Errorf("models[%d] (%s): timeout %s must be within job_budget (%s)", i, m.ID, m.Timeout, c.Policy.JobBudget)
		}
	}
	return nil
}

// Weights returns the aggregation trust weights keyed by id@version (or id when the
// version is left open).
func (c *Config) Weights() map[string]float64 {
	out := make(map[string]float64)
	for _, m := range c.Models {
		if m.Weight == nil {
			continue
		}
		out[m.Ref().String()] = *m.Weight
	}
	return out
}
