package service

import (
	"context"
	"strconv"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/workspace"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const poolRetryHeader = "x-pool-retry"

// RetryConfig controls how messages rejected by a full pool are re-queued.
type RetryConfig struct {
	Topic           string        `yaml:"retryTopic"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MaxRetries      int           `yaml:"poolRetryMax"`
	BaseDelay       time.Duration `yaml:"poolRetryBaseDelay"`
	MaxDelay        time.Duration `yaml:"poolRetryMaxDelay"`
}

// ParsePoolRetryCount reads the pool retry counter from message headers.
func ParsePoolRetryCount(headers map[string]string) int {
	raw, ok := headers[poolRetryHeader]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// CloneMessageForRetry copies msg with a fresh timestamp and the given retry counter.
func CloneMessageForRetry(msg *mq.Message, retryCount int) *mq.Message {
	out := &mq.Message{
		ID:         msg.ID,
		Body:       msg.Body,
		Headers:    make(map[string]string, len(msg.Headers)+1),
		Timestamp:  time.Now(),
		MaxRetries: msg.MaxRetries,
		Expiration: msg.Expiration,
	}
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[poolRetryHeader] = strconv.Itoa(retryCount)
	return out
}

// RequeueForPoolFull republishes msg to the retry topic after a backoff, or
// to the dead letter topic once the retry budget is spent.
func RequeueForPoolFull(ctx context.Context, queue mq.Producer, cfg RetryConfig, msg *mq.Message) error {
	if queue == nil || cfg.Topic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	retryCount := ParsePoolRetryCount(msg.Headers)
	if cfg.MaxRetries > 0 && retryCount >= cfg.MaxRetries {
		if cfg.DeadLetterTopic == "" {
			logger.Warn(ctx, "worker pool retry exhausted without dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID))
			return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
		}
		logger.Warn(ctx, "worker pool retry exhausted, sending to dead letter",
			zap.Int("retry_count", retryCount),
			zap.String("message_id", msg.ID),
			zap.String("topic", cfg.DeadLetterTopic))
		return queue.Publish(ctx, cfg.DeadLetterTopic, CloneMessageForRetry(msg, retryCount))
	}

	delay := workspace.ComputeBackoff(retryCount, cfg.BaseDelay, cfg.MaxDelay)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info(ctx, "worker pool requeue",
		zap.Int("retry_count", retryCount+1),
		zap.String("message_id", msg.ID),
		zap.Duration("delay", delay),
		zap.String("topic", cfg.Topic))
	return queue.Publish(ctx, cfg.Topic, CloneMessageForRetry(msg, retryCount+1))
}
