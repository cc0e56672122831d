// Package mqtt wraps the paho client and routes inbound bus messages to the
// registered handlers by topic.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// Client handles the MQTT connection and outbound publishing. Inbound
// messages are forwarded to a Router.
type Client struct {
	client mqtt.Client

	mu     sync.Mutex
	router *Router
	topics []string
}

// NewClient connects to the broker with auto-reconnect enabled.
func NewClient(broker, clientID, username, password string) (*Client, error) {
	c := &Client{}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = c.connectHandler
	opts.OnConnectionLost = c.connectionLostHandler

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.client = client
	return c, nil
}

// Route attaches the router and subscribes to the given topics. The
// subscription list is replayed on every reconnect.
func (c *Client) Route(router *Router, topics ...string) {
	c.mu.Lock()
	c.router = router
	c.topics = append(c.topics, topics...)
	c.mu.Unlock()

	c.subscribeAll()
}

func (c *Client) subscribeAll() {
	c.mu.Lock()
	router := c.router
	topics := make([]string, len(c.topics))
	copy(topics, c.topics)
	c.mu.Unlock()

	if router == nil {
		return
	}

	for _, topic := range topics {
		token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			router.Dispatch(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("[MQTT] Failed to subscribe to %s: %v", topic, token.Error())
			continue
		}
		log.Printf("[MQTT] Subscribed to: %s", topic)
	}
}

func (c *Client) connectHandler(_ mqtt.Client) {
	log.Println("[MQTT] Connected to broker")
	c.subscribeAll()
}

func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Printf("[MQTT] Connection to broker lost: %v", err)
}

// Publish JSON-encodes the payload and publishes it at QoS 1.
func (c *Client) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("error publishing to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects the MQTT client.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
