package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"skyalert/internal/model"
)

// MQTTTransport publishes payloads as JSON to a broker topic. An mqtt
// channel's endpoint is the topic, optionally prefixed "mqtt://".
type MQTTTransport struct {
	client mqtt.Client
}

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

func NewMQTTTransport(opt MQTTOptions) (*MQTTTransport, error) {
	o := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if opt.Username != "" {
		o.SetUsername(opt.Username)
		o.SetPassword(opt.Password)
	}
	c := mqtt.NewClient(o)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	return &MQTTTransport{client: c}, nil
}

func (t *MQTTTransport) Send(ctx context.Context, p model.NotificationPayload) error {
	topic := strings.TrimPrefix(strings.TrimSpace(p.Endpoint), "mqtt://")
	if topic == "" {
		return fmt.Errorf("mqtt endpoint is empty")
	}

	b, err := json.Marshal(map[string]any{
		"title":      p.Title,
		"body":       p.Body,
		"priority":   string(p.Priority),
		"event_type": p.EventType,
		"trigger_id": p.TriggerID,
		"rule_id":    p.RuleID,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	tok := t.client.Publish(topic, 1, false, b)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
