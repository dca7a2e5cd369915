package mq

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"codejudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const fetchErrorBackoff = 100 * time.Millisecond

// KafkaConfig configures the shared writer and the per-topic readers.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *KafkaConfig) applyDefaults() {
	setDefault(&c.BatchSize, 100)
	setDefault(&c.BatchTimeout, 50*time.Millisecond)
	setDefault(&c.MinBytes, 1<<10)
	setDefault(&c.MaxBytes, 10<<20)
	setDefault(&c.MaxWait, time.Second)
	setDefault(&c.DialTimeout, 10*time.Second)
	setDefault(&c.ReadTimeout, 10*time.Second)
	setDefault(&c.WriteTimeout, 10*time.Second)
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
}

func setDefault[T int | time.Duration](v *T, def T) {
	if *v == 0 {
		*v = def
	}
}

// KafkaQueue publishes through one writer and consumes each subscribed topic
// with its own consumer-group reader.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	subs    []*subscription
	started bool
	closed  bool
}

// NewKafkaQueue builds the writer; readers are created on Start.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	cfg.applyDefaults()

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
		},
	}
	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, EncodeKafka(topic, message))
}

func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.applyDefaults(topic)
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &subscription{queue: k, topic: topic, handler: handler, opts: options, parent: ctx}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subs = append(k.subs, sub)
	if k.started {
		sub.start()
	}
	return nil
}

func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subs {
		sub.start()
	}
	k.started = true
	return nil
}

// Stop cancels every subscription and waits for in-flight handlers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		sub.stop()
	}
	k.started = false
	return nil
}

// Ping dials the first broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

type subscription struct {
	queue   *KafkaQueue
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *subscription) start() {
	cfg := s.queue.config
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       s.topic,
		GroupID:     s.opts.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset,
	})
	s.ctx, s.cancel = context.WithCancel(s.parent)

	deliveries := make(chan kafka.Message, s.opts.Concurrency)
	s.wg.Add(1 + s.opts.Concurrency)
	go s.fetch(deliveries)
	for i := 0; i < s.opts.Concurrency; i++ {
		go func() {
			defer s.wg.Done()
			for msg := range deliveries {
				s.deliver(msg)
			}
		}()
	}
	logger.Info(s.ctx, "kafka subscription started",
		zap.String("topic", s.topic), zap.String("group", s.opts.ConsumerGroup), zap.Int("concurrency", s.opts.Concurrency))
}

func (s *subscription) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	_ = s.reader.Close()
	s.cancel = nil
}

// fetch feeds deliveries until the subscription is canceled. A limiter token
// is taken before each fetch and returned by deliver.
func (s *subscription) fetch(deliveries chan<- kafka.Message) {
	defer s.wg.Done()
	defer close(deliveries)
	limiter := s.opts.Limiter
	for s.ctx.Err() == nil {
		if limiter != nil {
			if err := limiter.Acquire(s.ctx); err != nil {
				return
			}
		}
		msg, err := s.reader.FetchMessage(s.ctx)
		if err != nil {
			if limiter != nil {
				limiter.Release()
			}
			if s.ctx.Err() != nil {
				return
			}
			logger.Warn(s.ctx, "kafka fetch failed", zap.String("topic", s.topic), zap.Error(err))
			time.Sleep(fetchErrorBackoff)
			continue
		}
		select {
		case deliveries <- msg:
		case <-s.ctx.Done():
			if limiter != nil {
				limiter.Release()
			}
			return
		}
	}
}

// deliver runs the handler with retries, then commits. Messages that exhaust
// their retries go to the dead-letter topic when one is configured.
func (s *subscription) deliver(raw kafka.Message) {
	if s.opts.Limiter != nil {
		defer s.opts.Limiter.Release()
	}
	m := DecodeKafka(raw)
	if m.MaxRetries == 0 {
		m.MaxRetries = s.opts.MaxRetries
	}
	if m.Expiration == 0 {
		m.Expiration = s.opts.MessageTTL
	}
	if m.Expired(time.Now()) {
		logger.Warn(s.ctx, "kafka message expired", zap.String("topic", s.topic), zap.String("message_id", m.ID))
		s.commit(raw)
		return
	}

	for {
		err := s.handler(s.ctx, m)
		if err == nil {
			s.commit(raw)
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			logger.Error(s.ctx, "kafka handler gave up", zap.String("topic", s.topic),
				zap.String("message_id", m.ID), zap.Int("retries", m.MaxRetries), zap.Error(err))
			if s.opts.DeadLetterTopic != "" {
				if dlqErr := s.queue.Publish(s.ctx, s.opts.DeadLetterTopic, m); dlqErr != nil {
					logger.Error(s.ctx, "dead-letter publish failed", zap.String("topic", s.opts.DeadLetterTopic), zap.Error(dlqErr))
				}
			}
			s.commit(raw)
			return
		}
		select {
		case <-time.After(s.opts.RetryDelay):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *subscription) commit(raw kafka.Message) {
	if err := s.reader.CommitMessages(s.ctx, raw); err != nil && s.ctx.Err() == nil {
		logger.Warn(s.ctx, "kafka commit failed", zap.String("topic", s.topic), zap.Error(err))
	}
}
