package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// SignalMessage is the JSON payload expected on the signal topic. DeadlineMS is a
// budget relative to arrival, so device clocks do not matter.
type SignalMessage struct {
	PatientID      string                  `json:"patient_id"`
	ExamID         string                  `json:"exam_id"`
	Lead           string                  `json:"lead"`
	SamplingRateHz float64                 `json:"sampling_rate_hz"`
	Samples        []float64               `json:"samples"`
	CapturedAt     time.Time               `json:"captured_at"`
	Context        *domain.ClinicalContext `json:"context,omitempty"`
	DeadlineMS     int64                   `json:"deadline_ms,omitempty"`
}

// Collector subscribes to the signal topic and turns each message into a submission.
type Collector struct {
	cfg     Config
	obs     ports.Observability
	client  paho.Client
	inbox   chan paho.Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	now     func() time.Time
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, errors.New("mqtt collector: observability is required")
	}
	return &Collector{cfg: cfg, obs: obs, now: time.Now}, nil
}

func (c *Collector) Start(out chan<- *ports.Submission) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("mqtt collector already started")
	}
	c.mu.Unlock()

	inbox := make(chan paho.Message, c.cfg.Buffer)
	opts := clientOptions(c.cfg, "collector")
	opts.OnConnect = func(cl paho.Client) {
		tok := cl.Subscribe(c.cfg.SignalTopic, c.cfg.QoS, func(_ paho.Client, m paho.Message) {
			select {
			case inbox <- m:
			default:
				c.obs.IncCounter("ecg_ingest_dropped_total", 1)
				c.obs.LogError("mqtt_inbox_full", fmt.Errorf("dropping message on %s", m.Topic()))
			}
		})
		tok.Wait()
		if err := tok.Error(); err != nil {
			c.obs.LogError("mqtt_subscribe_failed", err, ports.Field{Key: "topic", Value: c.cfg.SignalTopic})
			return
		}
		c.obs.LogInfo("mqtt_subscribed", ports.Field{Key: "topic", Value: c.cfg.SignalTopic})
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.obs.LogError("mqtt_connection_lost", err)
	}

	client := paho.NewClient(opts)
	if err := connect(client, c.cfg.ConnectTimeout); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.client = client
	c.inbox = inbox
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(ctx, inbox, out)
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	client := c.client
	cancel := c.cancel
	c.started = false
	c.client = nil
	c.cancel = nil
	c.mu.Unlock()

	var err error
	if client != nil {
		tok := client.Unsubscribe(c.cfg.SignalTopic)
		if tok.WaitTimeout(2*time.Second) && tok.Error() != nil {
			err = tok.Error()
		}
		client.Disconnect(250)
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, inbox <-chan paho.Message, out chan<- *ports.Submission) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-inbox:
			sub, err := c.decode(m.Topic(), m.Payload())
			if err != nil {
				c.obs.IncCounter("ecg_ingest_decode_errors_total", 1)
				c.obs.LogError("mqtt_decode_failed", err, ports.Field{Key: "topic", Value: m.Topic()})
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- sub:
			}
		}
	}
}

// decode maps a payload to a submission. The device id in ecg/{device}/signal fills
// a missing exam id.
func (c *Collector) decode(topic string, payload []byte) (*ports.Submission, error) {
	var msg SignalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", topic, err)
	}
	if len(msg.Samples) == 0 {
		return nil, fmt.Errorf("decode %s: no samples", topic)
	}
	if msg.SamplingRateHz <= 0 {
		return nil, fmt.Errorf("decode %s: sampling_rate_hz must be > 0", topic)
	}

	now := c.now()
	if msg.ExamID == "" {
		msg.ExamID = fmt.Sprintf("%s-%d", deviceFromTopic(topic), now.UnixMilli())
	}
	if msg.Lead == "" {
		msg.Lead = "II"
	}
	if msg.CapturedAt.IsZero() {
		msg.CapturedAt = now
	}

	sub := &ports.Submission{
		Signal: domain.SignalSample{
			PatientID:      msg.PatientID,
			ExamID:         msg.ExamID,
			Lead:           msg.Lead,
			SamplingRateHz: msg.SamplingRateHz,
			Samples:        msg.Samples,
			CapturedAt:     msg.CapturedAt,
		},
		Context: msg.Context,
	}
	if msg.DeadlineMS > 0 {
		sub.Deadline = now.Add(time.Duration(msg.DeadlineMS) * time.Millisecond)
	}
	return sub, nil
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[1] != "" {
		return parts[1]
	}
	return "device"
}

var _ ports.Collector = (*Collector)(nil)
