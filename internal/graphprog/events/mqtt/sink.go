// Package mqtt publishes run events to an MQTT broker, one topic per run.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/danshapiro/agentgraph/internal/ctxlog"
	"github.com/danshapiro/agentgraph/internal/graphprog/events"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"

	DefaultTopic   = "agentgraph/runs"
	publishTimeout = 5 * time.Second
)

// Publisher is the slice of paho.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type Config struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Codec     string
	QoS       byte
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Topic) == "" {
		c.Topic = DefaultTopic
	}
	c.Topic = strings.TrimRight(c.Topic, "/")
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
	if c.ClientID == "" {
		c.ClientID = "agentgraph"
	}
}

type Sink struct {
	pub   Publisher
	cfg   Config
	close func()

	mu sync.Mutex
}

// New wraps an existing publisher. It does not own the connection.
func New(pub Publisher, cfg Config) (*Sink, error) {
	cfg.applyDefaults()
	if cfg.Codec != CodecJSON && cfg.Codec != CodecMsgpack {
		return nil, fmt.Errorf("mqtt: unknown codec %q (want json or msgpack)", cfg.Codec)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}
	return &Sink{pub: pub, cfg: cfg, close: func() {}}, nil
}

// Dial connects to cfg.BrokerURL and returns a sink that owns the client.
func Dial(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, fmt.Errorf("mqtt: broker_url is required")
	}
	cfg.applyDefaults()
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.BrokerURL, err)
	}
	s, err := New(client, cfg)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	s.close = func() { client.Disconnect(1000) }
	return s, nil
}

func (s *Sink) Topic(runID string) string {
	return s.cfg.Topic + "/" + runID
}

func (s *Sink) encode(ev events.Event) ([]byte, error) {
	if s.cfg.Codec == CodecMsgpack {
		return msgpack.Marshal(ev)
	}
	return json.Marshal(ev)
}

func (s *Sink) Emit(ctx context.Context, ev events.Event) {
	logger := ctxlog.FromContext(ctx)
	payload, err := s.encode(ev)
	if err != nil {
		logger.Warn("mqtt: encode event", "type", ev.Type, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.pub.Publish(s.Topic(ev.RunID), s.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		logger.Warn("mqtt: publish timed out", "type", ev.Type, "topic", s.Topic(ev.RunID))
		return
	}
	if err := token.Error(); err != nil {
		logger.Warn("mqtt: publish failed", "type", ev.Type, "topic", s.Topic(ev.RunID), "error", err)
	}
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}
