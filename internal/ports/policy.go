package ports

import "time"

type Policy struct {
	PoolSize   int    `yaml:"pool_size"`
	QueueSize  int    `yaml:"queue_size"`
	QueueOrder string `yaml:"queue_order"` // "fifo", "deadline"

	JobBudget    time.Duration `yaml:"job_budget"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`

	// Ingest only. Direct submissions always surface ErrBackpressure.
	OnBackpressure string        `yaml:"on_backpressure"` // "drop", "retry"
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}
