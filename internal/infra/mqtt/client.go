// Package mqtt adapts a paho MQTT connection to the application's message bus.
package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string

	// WillTopic receives WillPayload, retained, if the connection drops.
	WillTopic   string
	WillPayload string
}

// Client is safe for concurrent use. Subscriptions survive reconnects.
type Client struct {
	client paho.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]func([]byte)
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID()
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, qos, true)
	}

	c := &Client{
		logger: logger,
		subs:   make(map[string]func([]byte)),
	}
	opts.OnConnect = func(_ paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
		c.resubscribeAll()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connecting to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	c.client = client
	return c, nil
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing %s: timeout", topic)
	}
	return token.Error()
}

// Subscribe replaces any earlier handler for topic.
func (c *Client) Subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	return c.subscribe(topic, handler)
}

func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) subscribe(topic string, handler func([]byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribing %s: timeout", topic)
	}
	return token.Error()
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	subs := make(map[string]func([]byte), len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func randomClientID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("valetudo-home-%d", time.Now().UnixNano())
	}
	return "valetudo-home-" + hex.EncodeToString(buf)
}
