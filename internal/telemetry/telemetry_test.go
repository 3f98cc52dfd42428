package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/hw/display"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakeSender) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic, retained, payload.([]byte)})
	return doneToken{f.err}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestRefreshPublishesJSON(t *testing.T) {
	p := NewPublisher("stargo/status", 4)
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Send(ctx, sender)

	require.NoError(t, p.Refresh(display.Status{TrackedAngleDeg: 1.5, SecondsToDither: 42, Forward: true}))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	sender.mu.Lock()
	msg := sender.msgs[0]
	sender.mu.Unlock()

	assert.Equal(t, "stargo/status", msg.topic)
	assert.True(t, msg.retained)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, 1.5, got["tracked_angle_deg"])
	assert.Equal(t, 42.0, got["seconds_to_dither"])
	assert.Equal(t, true, got["forward"])
	assert.Eventually(t, func() bool { return p.Sent() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRefreshNeverBlocks(t *testing.T) {
	p := NewPublisher("t", 2)
	assert.NoError(t, p.Refresh(display.Status{}))
	assert.NoError(t, p.Refresh(display.Status{}))
	assert.Error(t, p.Refresh(display.Status{}))
	assert.Equal(t, uint64(1), p.Dropped())
}

func TestPublishErrorNotCounted(t *testing.T) {
	p := NewPublisher("t", 1)
	sender := &fakeSender{err: errors.New("broker gone")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Send(ctx, sender)

	require.NoError(t, p.Refresh(display.Status{}))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.Sent())
}

func TestSendStopsOnCancel(t *testing.T) {
	p := NewPublisher("t", 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Send(ctx, &fakeSender{})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send did not return after cancel")
	}
}

func TestLoadEnvFromFile(t *testing.T) {
	t.Setenv(EnvBroker, "")
	t.Setenv(EnvUsername, "")
	t.Setenv(EnvPassword, "")
	path := filepath.Join(t.TempDir(), ".env")
	content := "STARGO_MQTT_BROKER=tcp://pi.local:1883\nSTARGO_MQTT_USERNAME=mount\nSTARGO_MQTT_PASSWORD=secret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	creds, err := LoadEnv(path)
	require.NoError(t, err)
	assert.Equal(t, Credentials{Broker: "tcp://pi.local:1883", Username: "mount", Password: "secret"}, creds)
}

func TestLoadEnvProcessOverrides(t *testing.T) {
	t.Setenv(EnvBroker, "")
	t.Setenv(EnvUsername, "override")
	t.Setenv(EnvPassword, "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STARGO_MQTT_USERNAME=mount\n"), 0o600))

	creds, err := LoadEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "override", creds.Username)
}

func TestLoadEnvMissingFile(t *testing.T) {
	t.Setenv(EnvBroker, "")
	creds, err := LoadEnv(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Empty(t, creds.Broker)
}

func TestBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{Broker: "tcp://from-config:1883"}
	assert.Equal(t, "tcp://from-config:1883", BrokerURL(cfg, Credentials{}))
	assert.Equal(t, "tcp://from-env:1883", BrokerURL(cfg, Credentials{Broker: "tcp://from-env:1883"}))
	assert.Empty(t, BrokerURL(config.MQTTConfig{}, Credentials{}), "no broker disables publishing")
}
