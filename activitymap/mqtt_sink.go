package activitymap

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-project-auth"
)

const (
	defaultTopicPrefix    = "auth/activity"
	defaultPublishTimeout = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Publisher is the part of a paho client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTSink publishes normalized activity to <prefix>/<event type>. It
// implements auth.ActivitySink.
type MQTTSink struct {
	publisher Publisher
	prefix    string
	qos       byte
	timeout   time.Duration
	opts      []Option
}

var _ auth.ActivitySink = (*MQTTSink)(nil)

type MQTTSinkOption func(*MQTTSink)

func WithTopicPrefix(prefix string) MQTTSinkOption {
	return func(s *MQTTSink) {
		if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
			s.prefix = p
		}
	}
}

func WithQoS(qos byte) MQTTSinkOption {
	return func(s *MQTTSink) {
		if qos <= 2 {
			s.qos = qos
		}
	}
}

func WithPublishTimeout(timeout time.Duration) MQTTSinkOption {
	return func(s *MQTTSink) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithNormalizeOptions is applied to every event before publishing
func WithNormalizeOptions(opts ...Option) MQTTSinkOption {
	return func(s *MQTTSink) {
		s.opts = append(s.opts, opts...)
	}
}

func NewMQTTSink(publisher Publisher, opts ...MQTTSinkOption) *MQTTSink {
	s := &MQTTSink{
		publisher: publisher,
		prefix:    defaultTopicPrefix,
		qos:       1,
		timeout:   defaultPublishTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Topic returns the topic an event type is published on
func (s *MQTTSink) Topic(eventType auth.ActivityEventType) string {
	return s.prefix + "/" + strings.ReplaceAll(string(eventType), ".", "/")
}

// Record normalizes and publishes event. It waits for the broker ack up to
// the publish timeout or until ctx is done.
func (s *MQTTSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	payload, err := json.Marshal(Normalize(event, s.opts...))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode activity")
	}

	token := s.publisher.Publish(s.Topic(event.EventType), s.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "activity publish cancelled")
	case <-time.After(s.timeout):
		return goerrors.New("activity publish timed out", goerrors.CategoryOperation).
			WithMetadata(map[string]any{"timeout": s.timeout.String()})
	}

	if err := token.Error(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "activity publish failed")
	}
	return nil
}

// ClientConfig describes the broker connection
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect dials the broker with auto reconnect enabled
func Connect(cfg ClientConfig) (pahomqtt.Client, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, goerrors.New("mqtt connect timed out", goerrors.CategoryOperation)
	}
	if err := token.Error(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "mqtt connect failed")
	}

	return client, nil
}
