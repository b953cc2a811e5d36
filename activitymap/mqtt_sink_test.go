package activitymap_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-project-auth"
	"github.com/goliatone/go-project-auth/activitymap"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []published
	token pahomqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return p.token
}

func TestMQTTSink_PublishesNormalizedEvent(t *testing.T) {
	pub := &fakePublisher{token: completedToken(nil)}
	sink := activitymap.NewMQTTSink(pub, activitymap.WithTopicPrefix("/acme/auth/"), activitymap.WithQoS(0))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType:  auth.ActivityEventLoginSuccess,
		Actor:      auth.ActorRef{ID: "user-1", Type: "user"},
		UserID:     "user-1",
		OccurredAt: ts,
	})
	require.NoError(t, err)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "acme/auth/auth/login/success", msg.topic)
	assert.Equal(t, byte(0), msg.qos)
	assert.False(t, msg.retained)

	var out activitymap.Record
	require.NoError(t, json.Unmarshal(msg.payload, &out))
	assert.Equal(t, "user-1", out.ActorID)
	assert.Equal(t, string(auth.ActivityEventLoginSuccess), out.Event)
	assert.True(t, out.OccurredAt.Equal(ts))
}

func TestMQTTSink_PropagatesBrokerError(t *testing.T) {
	brokerErr := errors.New("not authorized")
	pub := &fakePublisher{token: completedToken(brokerErr)}
	sink := activitymap.NewMQTTSink(pub)

	err := sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout})
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerErr)
}

func TestMQTTSink_TimesOut(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: make(chan struct{})}}
	sink := activitymap.NewMQTTSink(pub, activitymap.WithPublishTimeout(10*time.Millisecond))

	err := sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout})
	assert.Error(t, err)
}

func TestMQTTSink_HonoursContext(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: make(chan struct{})}}
	sink := activitymap.NewMQTTSink(pub, activitymap.WithPublishTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLogout})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMQTTSink_DefaultTopic(t *testing.T) {
	sink := activitymap.NewMQTTSink(&fakePublisher{})
	assert.Equal(t, "auth/activity/auth/password/reset", sink.Topic(auth.ActivityEventPasswordResetSuccess))
}

func TestMQTTSink_AppliesNormalizeOptions(t *testing.T) {
	pub := &fakePublisher{token: completedToken(nil)}
	sink := activitymap.NewMQTTSink(pub, activitymap.WithNormalizeOptions(
		activitymap.WithSource("edge"),
		activitymap.WithRedactedKeys("email"),
	))

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLoginFailure,
		Metadata:  map[string]any{"reason": "unknown_user", "email": "x@example.com"},
	})
	require.NoError(t, err)

	var out activitymap.Record
	require.Len(t, pub.msgs, 1)
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &out))
	assert.Equal(t, "edge", out.Source)
	assert.Equal(t, "unknown_user", out.Reason)
	assert.Nil(t, out.Attributes)
}
