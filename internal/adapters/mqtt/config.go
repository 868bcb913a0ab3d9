// Package mqtt connects the pipeline to an MQTT broker: ECG recordings arrive on the
// signal topic and CRITICAL results are published on the alert topic.
package mqtt

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	SignalTopic    string        `yaml:"signal_topic"`
	AlertTopic     string        `yaml:"alert_topic"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// Buffer holds decoded messages waiting for the ingest loop.
	Buffer int `yaml:"buffer"`
}

func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		host, _ := os.Hostname()
		c.ClientID = fmt.Sprintf("ecgflow-%s-%d", host, os.Getpid())
	}
	if c.SignalTopic == "" {
		c.SignalTopic = "ecg/+/signal"
	}
	if c.AlertTopic == "" {
		c.AlertTopic = "ecg/alerts/critical"
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 32
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if !strings.Contains(c.Broker, "://") {
		return fmt.Errorf("mqtt broker %q must include a scheme (tcp://, ssl://, ws://)", c.Broker)
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// Enabled reports whether a broker was configured at all.
func (c Config) Enabled() bool { return c.Broker != "" }

func clientOptions(cfg Config, suffix string) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID + "-" + suffix)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOrderMatters(false)
	return opts
}

func connect(client paho.Client, timeout time.Duration) error {
	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}
