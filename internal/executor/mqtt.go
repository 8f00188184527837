package executor

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sugawarayuuta/sonnet"

	"github.com/solatis/tripwire/internal/types"
)

// MQTTConfig describes the broker connection for DialMQTT.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// DialMQTT connects a paho client.
func DialMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.Username = cfg.Username
	opts.Password = cfg.Password

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// MQTTBroadcaster publishes executor responses to a topic.
type MQTTBroadcaster struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTTBroadcaster publishes on topic with QoS 1.
func NewMQTTBroadcaster(client mqtt.Client, topic string, timeout time.Duration) *MQTTBroadcaster {
	return &MQTTBroadcaster{client: client, topic: topic, qos: 1, timeout: timeout}
}

type broadcastMessage struct {
	RunID       types.RunID       `json:"runId"`
	Response    map[string]any    `json:"response,omitempty"`
	Signatures  map[string]string `json:"signatures,omitempty"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// Broadcast publishes resp and waits for the broker acknowledgement.
func (b *MQTTBroadcaster) Broadcast(ctx context.Context, runID types.RunID, resp *types.ActionResponse) error {
	msg := broadcastMessage{RunID: runID, PublishedAt: time.Now().UTC()}
	if resp != nil {
		msg.Response = resp.Response
		msg.Signatures = resp.Signatures
	}
	payload, err := sonnet.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	token := b.client.Publish(b.topic, b.qos, false, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", b.topic, b.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBroadcaster) Close() {
	b.client.Disconnect(250)
}
