package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	logx "pushcron/pkg/logx"
)

const mqttConnectTimeout = 30 * time.Second

// MQTT publishes each message to TopicPrefix + channel.
type MQTT struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
}

func DialMQTT(ctx context.Context, cfg config.MQTTConfig, log logx.Logger) (*MQTT, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "pushcron"
	}
	l := log.With(logx.String("comp", "delivery.mqtt"), logx.String("broker", cfg.Broker))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) { l.Info("mqtt connected") })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { l.Warn("mqtt connection lost", logx.Err(err)) })

	c := mqtt.NewClient(opts)
	if err := waitToken(ctx, c.Connect(), mqttConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return &MQTT{client: c, prefix: cfg.TopicPrefix, qos: cfg.QoS, retain: cfg.Retain}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Send(ctx context.Context, env dispatch.Envelope) error {
	if !m.client.IsConnectionOpen() {
		return dispatch.NewDeliveryError(m.Name(), dispatch.ReasonUnavailable, errors.New("not connected"))
	}
	_, payload, err := encode(env)
	if err != nil {
		return dispatch.NewDeliveryError(m.Name(), dispatch.ReasonRejected, err)
	}
	tok := m.client.Publish(m.prefix+env.Target.Channel, m.qos, m.retain, payload)
	if err := waitToken(ctx, tok, 0); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTT) Close(context.Context) error {
	m.client.Disconnect(250)
	return nil
}

// waitToken waits for tok until ctx is done or, when fallback > 0 and ctx
// has no deadline, until fallback elapses.
func waitToken(ctx context.Context, tok mqtt.Token, fallback time.Duration) error {
	if _, ok := ctx.Deadline(); !ok && fallback > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fallback)
		defer cancel()
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
