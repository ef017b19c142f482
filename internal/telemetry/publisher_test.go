package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/localization"
)

// mockToken implements mqtt.Token for testing.
type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockClient implements mqtt.Client, recording published messages.
type mockClient struct {
	connected  bool
	publishErr error
	published  []publishedMessage
}

func (c *mockClient) IsConnected() bool      { return c.connected }
func (c *mockClient) IsConnectionOpen() bool { return c.connected }
func (c *mockClient) Connect() mqtt.Token    { return &mockToken{} }
func (c *mockClient) Disconnect(uint)        {}
func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, publishedMessage{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	})
	return &mockToken{err: c.publishErr}
}
func (c *mockClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return &mockToken{} }
func (c *mockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (c *mockClient) Unsubscribe(...string) mqtt.Token        { return &mockToken{} }
func (c *mockClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func TestPublishEstimate(t *testing.T) {
	t.Parallel()

	client := &mockClient{connected: true}
	pub := NewPosePublisher(client, "vehicle-7")

	stamp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	est := localization.Estimate{
		Stamp:   stamp,
		Pose:    cloud.FromXYZYaw(12.5, -3.0, 0.5, 0.25),
		Fitness: 0.12,
		Matched: 840,
	}
	require.NoError(t, pub.PublishEstimate(est))

	require.Len(t, client.published, 1)
	msg := client.published[0]
	assert.Equal(t, "vehicle-7/pose", msg.topic)
	assert.True(t, msg.retained)

	var payload PosePayload
	require.NoError(t, json.Unmarshal(msg.payload, &payload))
	assert.Equal(t, stamp.UnixNano(), payload.StampUnixNanos)
	assert.InDelta(t, 12.5, payload.X, 1e-9)
	assert.InDelta(t, -3.0, payload.Y, 1e-9)
	assert.InDelta(t, 0.25, payload.Yaw, 1e-9)
	assert.InDelta(t, 0.12, payload.Fitness, 1e-9)
	assert.Equal(t, 840, payload.Matched)
}

func TestPublishStatus(t *testing.T) {
	t.Parallel()

	client := &mockClient{connected: true}
	pub := NewPosePublisher(client, "")

	require.NoError(t, pub.PublishStatus(localization.StateTracking, true, 1))

	require.Len(t, client.published, 1)
	msg := client.published[0]
	assert.Equal(t, "relocalize/status", msg.topic)

	var payload StatusPayload
	require.NoError(t, json.Unmarshal(msg.payload, &payload))
	assert.Equal(t, "tracking", payload.State)
	assert.True(t, payload.Initialized)
	assert.Equal(t, 1, payload.Failures)
}

func TestPublishRequiresConnection(t *testing.T) {
	t.Parallel()

	pub := NewPosePublisher(&mockClient{connected: false}, "")
	err := pub.PublishEstimate(localization.Estimate{})
	assert.Error(t, err)

	pub = NewPosePublisher(nil, "")
	err = pub.PublishStatus(localization.StateUninitialized, false, 0)
	assert.Error(t, err)
}
