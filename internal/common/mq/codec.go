package mq

import (
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Envelope fields travel as reserved Kafka headers next to user headers.
const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
)

type envelopeField struct {
	key    string
	encode func(m *Message) (string, bool)
	decode func(m *Message, v string)
}

func positiveInt(v string) (int, bool) {
	n, err := strconv.Atoi(v)
	return n, err == nil && n >= 0
}

var envelopeFields = []envelopeField{
	{
		key:    headerID,
		encode: func(m *Message) (string, bool) { return m.ID, m.ID != "" },
		decode: func(m *Message, v string) { m.ID = v },
	},
	{
		key: headerTimestamp,
		encode: func(m *Message) (string, bool) {
			return m.Timestamp.Format(time.RFC3339Nano), !m.Timestamp.IsZero()
		},
		decode: func(m *Message, v string) {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.Timestamp = ts
			}
		},
	},
	{
		key:    headerRetryCount,
		encode: func(m *Message) (string, bool) { return strconv.Itoa(m.RetryCount), m.RetryCount != 0 },
		decode: func(m *Message, v string) {
			if n, ok := positiveInt(v); ok {
				m.RetryCount = n
			}
		},
	},
	{
		key:    headerMaxRetries,
		encode: func(m *Message) (string, bool) { return strconv.Itoa(m.MaxRetries), m.MaxRetries != 0 },
		decode: func(m *Message, v string) {
			if n, ok := positiveInt(v); ok {
				m.MaxRetries = n
			}
		},
	},
	{
		key: headerExpiration,
		encode: func(m *Message) (string, bool) {
			return strconv.FormatInt(m.Expiration.Milliseconds(), 10), m.Expiration > 0
		},
		decode: func(m *Message, v string) {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
				m.Expiration = time.Duration(ms) * time.Millisecond
			}
		},
	},
}

// EncodeKafka converts m for the writer. The message id doubles as the
// partition key so retries of one submission stay ordered.
func EncodeKafka(topic string, m *Message) kafka.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+len(envelopeFields))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	for _, f := range envelopeFields {
		if v, ok := f.encode(m); ok {
			headers = append(headers, kafka.Header{Key: f.key, Value: []byte(v)})
		}
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.ID),
		Value:   m.Body,
		Headers: headers,
		Time:    m.Timestamp,
	}
}

// DecodeKafka reverses EncodeKafka.
func DecodeKafka(msg kafka.Message) *Message {
	decoders := make(map[string]func(*Message, string), len(envelopeFields))
	for _, f := range envelopeFields {
		decoders[f.key] = f.decode
	}
	m := &Message{
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		if decode, ok := decoders[h.Key]; ok {
			decode(m, string(h.Value))
			continue
		}
		m.Headers[h.Key] = string(h.Value)
	}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	return m
}
