package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/relocalize/internal/localization"
)

// PosePayload is the wire form of an accepted pose estimate.
type PosePayload struct {
	StampUnixNanos int64   `json:"stamp_unix_nanos"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Z              float64 `json:"z"`
	Yaw            float64 `json:"yaw"`
	Fitness        float64 `json:"fitness"`
	Matched        int     `json:"matched"`
}

// StatusPayload is the wire form of the state machine's health.
type StatusPayload struct {
	StampUnixNanos int64  `json:"stamp_unix_nanos"`
	State          string `json:"state"`
	Initialized    bool   `json:"initialized"`
	Failures       int    `json:"failures"`
}

// PosePublisher publishes pose and status messages under a topic
// prefix. A nil client disables publishing.
type PosePublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
}

// NewPosePublisher creates a publisher. An empty prefix defaults to
// "relocalize".
func NewPosePublisher(client mqtt.Client, prefix string) *PosePublisher {
	if prefix == "" {
		prefix = "relocalize"
	}
	return &PosePublisher{
		client: client,
		prefix: prefix,
		qos:    0,    // fire and forget for pose updates
		retain: true, // retain so late subscribers see the latest pose
	}
}

// PublishEstimate publishes an accepted estimate to <prefix>/pose.
func (p *PosePublisher) PublishEstimate(est localization.Estimate) error {
	x, y, z := est.Pose.Translation()
	payload := PosePayload{
		StampUnixNanos: est.Stamp.UnixNano(),
		X:              x,
		Y:              y,
		Z:              z,
		Yaw:            est.Pose.Yaw(),
		Fitness:        est.Fitness,
		Matched:        est.Matched,
	}
	return p.publish(p.prefix+"/pose", payload)
}

// PublishStatus publishes the state machine's current mode to
// <prefix>/status.
func (p *PosePublisher) PublishStatus(state localization.State, initialized bool, failures int) error {
	payload := StatusPayload{
		StampUnixNanos: time.Now().UnixNano(),
		State:          state.String(),
		Initialized:    initialized,
		Failures:       failures,
	}
	return p.publish(p.prefix+"/status", payload)
}

func (p *PosePublisher) publish(topic string, payload any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, data)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
