// Package telemetry publishes status refreshes to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/display"
)

// Environment keys read from the process environment or a .env file.
const (
	EnvBroker   = "STARGO_MQTT_BROKER"
	EnvUsername = "STARGO_MQTT_USERNAME"
	EnvPassword = "STARGO_MQTT_PASSWORD"
)

// DefaultQueue is the number of pending status messages kept while the broker is slow.
const DefaultQueue = 16

// Credentials hold the broker connection secrets.
type Credentials struct {
	Broker   string
	Username string
	Password string
}

// LoadEnv reads credentials from the given .env files (default ".env").
// Non-empty process environment variables take precedence over file values.
// Missing files are not an error.
func LoadEnv(files ...string) (Credentials, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	vals := map[string]string{}
	for _, f := range files {
		m, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Credentials{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range m {
			vals[k] = v
		}
	}
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return vals[key]
	}
	return Credentials{
		Broker:   get(EnvBroker),
		Username: get(EnvUsername),
		Password: get(EnvPassword),
	}, nil
}

// BrokerURL picks the broker: the environment wins over the config file.
// An empty result disables publishing.
func BrokerURL(cfg config.MQTTConfig, creds Credentials) string {
	if creds.Broker != "" {
		return creds.Broker
	}
	return cfg.Broker
}

// Sender is the part of mqtt.Client the publisher needs.
type Sender interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher is a display.Display that queues each refresh as a retained JSON
// message. Refresh never blocks; messages are dropped when the queue is full.
type Publisher struct {
	topic   string
	queue   chan []byte
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewPublisher creates a publisher for topic with a queue of depth messages.
func NewPublisher(topic string, depth int) *Publisher {
	if depth < 1 {
		depth = 1
	}
	return &Publisher{topic: topic, queue: make(chan []byte, depth)}
}

// Topic returns the topic status messages are published to.
func (p *Publisher) Topic() string { return p.topic }

// Refresh implements display.Display.
func (p *Publisher) Refresh(s display.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	select {
	case p.queue <- payload:
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("mqtt queue full, status dropped")
	}
}

// Dropped returns how many refreshes were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Sent returns how many messages the broker acknowledged.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// Send drains the queue into client until ctx is done.
func (p *Publisher) Send(ctx context.Context, client Sender) {
	for {
		select {
		case payload := <-p.queue:
			token := client.Publish(p.topic, 0, true, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				debug.Trace("mqtt publish to %s: %v", p.topic, err)
				continue
			}
			p.sent.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// Connect opens an auto-reconnecting client to broker.
func Connect(broker, clientID string, creds Credentials) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetUsername(creds.Username)
	opts.SetPassword(creds.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		debug.Info("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		debug.Info("Connected to MQTT broker at %s", broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		debug.Info("MQTT broker %s not reachable yet, retrying in background", broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return client, nil
}

// Run connects to the broker and publishes until ctx is done.
func (p *Publisher) Run(ctx context.Context, broker, clientID string, creds Credentials) error {
	client, err := Connect(broker, clientID, creds)
	if err != nil {
		return err
	}
	p.Send(ctx, client)
	if client.IsConnected() {
		client.Disconnect(250)
		debug.Info("Disconnected from MQTT broker")
	}
	return nil
}
