// Package emittertest provides an in-memory MQTT client for tests.
package emittertest

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNoSubscriber is returned by Deliver when nothing subscribed to the topic.
var ErrNoSubscriber = errors.New("emittertest: no subscriber for topic")

// Publication is one recorded Publish call.
type Publication struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Client records publishes and routes Deliver calls to subscribed handlers.
type Client struct {
	mu           sync.Mutex
	connected    bool
	publications []Publication
	handlers     map[string]mqtt.MessageHandler

	// PublishErr and SubscribeErr make the next calls fail. Set before use.
	PublishErr   error
	SubscribeErr error
}

// NewClient returns a connected fake client.
func NewClient() *Client {
	return &Client{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

// SetConnected toggles IsConnected.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return &Token{err: c.PublishErr}
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}

	c.publications = append(c.publications, Publication{Topic: topic, QoS: qos, Payload: data})
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		return &Token{err: c.SubscribeErr}
	}
	c.handlers[topic] = callback
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &Token{}
}

func (c *Client) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// Publications returns a copy of everything published so far.
func (c *Client) Publications() []Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Publication(nil), c.publications...)
}

// PublicationsTo returns the payloads published to topic.
func (c *Client) PublicationsTo(topic string) [][]byte {
	var out [][]byte
	for _, p := range c.Publications() {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// Subscribed reports whether a handler is registered for topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Deliver invokes the handler subscribed to topic with payload.
func (c *Client) Deliver(topic string, payload []byte) error {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()

	if !ok {
		return ErrNoSubscriber
	}
	h(nil, &Message{topic: topic, payload: payload})
	return nil
}

// Token is an already-completed mqtt.Token.
type Token struct {
	err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a minimal mqtt.Message.
type Message struct {
	topic   string
	payload []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}
