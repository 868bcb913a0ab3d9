package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// Alert is the payload published for a CRITICAL result.
type Alert struct {
	JobID           string        `json:"job_id"`
	PatientID       string        `json:"patient_id,omitempty"`
	ExamID          string        `json:"exam_id,omitempty"`
	Label           domain.Label  `json:"label"`
	Confidence      float64       `json:"confidence"`
	Urgency         string        `json:"urgency"`
	EscalationRules []string      `json:"escalation_rules,omitempty"`
	Latency         time.Duration `json:"latency_ns"`
	CompletedAt     time.Time     `json:"completed_at"`
}

func NewAlert(r domain.DiagnosticResult) Alert {
	return Alert{
		JobID:           r.JobID,
		PatientID:       r.PatientID,
		ExamID:          r.ExamID,
		Label:           r.Label,
		Confidence:      r.Confidence,
		Urgency:         r.Urgency.String(),
		EscalationRules: r.EscalationRules,
		Latency:         r.Latency,
		CompletedAt:     r.CompletedAt,
	}
}

// publisher is the subset of paho.Client the alert publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// AlertPublisher hands CRITICAL results to the notification collaborator over MQTT.
type AlertPublisher struct {
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
}

// NewAlertPublisher connects its own client to the broker.
func NewAlertPublisher(cfg Config) (*AlertPublisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := paho.NewClient(clientOptions(cfg, "alerts"))
	if err := connect(client, cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	return newAlertPublisher(client, cfg), nil
}

func newAlertPublisher(client publisher, cfg Config) *AlertPublisher {
	return &AlertPublisher{client: client, topic: cfg.AlertTopic, qos: cfg.QoS, timeout: cfg.ConnectTimeout}
}

func (p *AlertPublisher) OnCriticalAlert(ctx context.Context, r domain.DiagnosticResult) error {
	payload, err := json.Marshal(NewAlert(r))
	if err != nil {
		return err
	}
	tok := p.client.Publish(p.topic, p.qos, false, payload)

	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish alert %s: %w", r.JobID, ctx.Err())
	case <-time.After(p.timeout):
		return fmt.Errorf("publish alert %s: timed out after %s", r.JobID, p.timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish alert %s: %w", r.JobID, err)
	}
	return nil
}

func (p *AlertPublisher) Close() error {
	if p.client == nil {
		return errors.New("alert publisher not connected")
	}
	p.client.Disconnect(250)
	return nil
}

var _ ports.AlertDispatcher = (*AlertPublisher)(nil)
