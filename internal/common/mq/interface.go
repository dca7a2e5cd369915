// Package mq carries judge work and status events over a message broker.
package mq

import (
	"context"
	"time"
)

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers messages to handlers. Subscriptions registered before
// Start begin consuming on Start; later ones start immediately.
type Consumer interface {
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// Message is a broker-independent envelope.
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration drops the message when it is older than this on delivery.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc handles one message. A non-nil error triggers a redelivery.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string

	// Concurrency is the number of handler goroutines. Default 1.
	Concurrency int

	// MaxRetries is how often a failing handler is retried before the
	// message is dead-lettered. Default 3.
	MaxRetries int
	RetryDelay time.Duration

	DeadLetterTopic string
	MessageTTL      time.Duration

	// Limiter bounds in-flight messages across subscriptions when set.
	Limiter FetchLimiter
}

func (o *SubscribeOptions) applyDefaults(topic string) {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "codejudge-" + topic
	}
}

// NewMessage wraps body with a fresh timestamp.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}

// Expired reports whether the message outlived its expiration at now.
func (m *Message) Expired(now time.Time) bool {
	return m.Expiration > 0 && !m.Timestamp.IsZero() && now.Sub(m.Timestamp) > m.Expiration
}
