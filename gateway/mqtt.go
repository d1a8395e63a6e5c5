package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/mbocsi/meshswitch/config"
)

// Bridge is the gateway's link to the home automation broker. Handlers run on
// the bridge's goroutines.
type Bridge interface {
	Connected() bool
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Close()
}

// MQTTBridge is a Bridge on an MQTT broker. It re-subscribes after every
// reconnect and marks the gateway offline through its last will.
type MQTTBridge struct {
	client      mqtt.Client
	statusTopic string

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

func StatusTopic(prefix string) string {
	return prefix + "/gateway/status"
}

// DialMQTT starts connecting to the broker and keeps retrying in the background.
func DialMQTT(cfg config.GatewayConfig) *MQTTBridge {
	b := &MQTTBridge{
		statusTopic: StatusTopic(cfg.Prefix),
		subs:        make(map[string]mqtt.MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("meshgw-" + uuid.NewString()[:8])
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(b.statusTopic, "offline", 1, true)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	b.client = mqtt.NewClient(opts)
	b.client.Connect()
	slog.Info("Connecting to MQTT broker", "broker", cfg.Broker)
	return b
}

func (b *MQTTBridge) onConnect(c mqtt.Client) {
	slog.Info("Connected to MQTT broker")
	c.Publish(b.statusTopic, 1, true, "online")

	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, handler := range b.subs {
		if token := c.Subscribe(topic, 1, handler); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			slog.Error("MQTT re-subscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (b *MQTTBridge) Connected() bool {
	return b.client.IsConnectionOpen()
}

func (b *MQTTBridge) Publish(topic string, retained bool, payload []byte) error {
	token := b.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

func (b *MQTTBridge) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	h := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}

	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()

	if !b.Connected() {
		return nil
	}
	token := b.client.Subscribe(topic, 1, h)
	token.Wait()
	return token.Error()
}

func (b *MQTTBridge) Close() {
	if b.Connected() {
		b.client.Publish(b.statusTopic, 1, true, "offline").WaitTimeout(time.Second)
	}
	b.client.Disconnect(250)
}
