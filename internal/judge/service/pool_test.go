package service_test

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
)

func TestPoolRunsTasks(t *testing.T) {
	t.Parallel()
	pool := service.NewPool(service.PoolConfig{Workers: 3, QueueSize: 10})
	defer pool.Stop()

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func(ctx context.Context) { done.Add(1) }); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	waitFor(t, "tasks", func() bool { return done.Load() == 10 })
}

func TestPoolBackpressure(t *testing.T) {
	t.Parallel()
	pool := service.NewPool(service.PoolConfig{Workers: 1, QueueSize: 1, AcquireWait: 20 * time.Millisecond})
	release := make(chan struct{})
	started := make(chan struct{})
	blocker := func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}

	if err := pool.TrySubmit(blocker); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	<-started
	if err := pool.TrySubmit(blocker); err != nil {
		t.Fatalf("queued submit failed: %v", err)
	}
	if err := pool.TrySubmit(blocker); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	start := time.Now()
	if err := pool.Submit(context.Background(), blocker); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull after wait, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("submit should wait for the acquire timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Submit(ctx, blocker); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(release)
	pool.Stop()
	if err := pool.TrySubmit(blocker); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("stopped pool should reject, got %v", err)
	}
}

func TestPoolStopCancelsTasksAndSurvivesPanics(t *testing.T) {
	t.Parallel()
	pool := service.NewPool(service.PoolConfig{Workers: 1})
	if err := pool.TrySubmit(func(ctx context.Context) { panic("boom") }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	canceled := make(chan struct{})
	if err := pool.Submit(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		close(canceled)
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	pool.Stop()
	select {
	case <-canceled:
	default:
		t.Fatalf("stop should cancel running tasks")
	}
}

func TestParsePoolRetryCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "empty", headers: nil, want: 0},
		{name: "missing", headers: map[string]string{}, want: 0},
		{name: "invalid", headers: map[string]string{"x-pool-retry": "bad"}, want: 0},
		{name: "negative", headers: map[string]string{"x-pool-retry": "-1"}, want: 0},
		{name: "ok", headers: map[string]string{"x-pool-retry": "3"}, want: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ParsePoolRetryCount(tt.headers); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRequeueForPoolFull(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	cfg := service.RetryConfig{Topic: "judge.retry", DeadLetterTopic: "judge.dead", MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

	msg := mq.NewMessage([]byte(`{"submission_id":"sub-1"}`))
	msg.ID = "sub-1"
	msg.SetHeader("trace", "abc")
	for i := 0; i < 3; i++ {
		if err := service.RequeueForPoolFull(context.Background(), queue, cfg, msg); err != nil {
			t.Fatalf("requeue %d failed: %v", i, err)
		}
		msgs := queue.messages()
		msg = msgs[len(msgs)-1].msg
	}

	msgs := queue.messages()
	wantTopics := []string{"judge.retry", "judge.retry", "judge.dead"}
	for i, want := range wantTopics {
		if msgs[i].topic != want {
			t.Fatalf("message %d: expected topic %s, got %s", i, want, msgs[i].topic)
		}
	}
	last := msgs[2].msg
	if last.ID != "sub-1" || last.Headers["trace"] != "abc" || last.Headers["x-pool-retry"] != strconv.Itoa(2) {
		t.Fatalf("unexpected dead letter message: %+v", last)
	}

	if err := service.RequeueForPoolFull(context.Background(), nil, cfg, msg); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable without queue, got %v", err)
	}
	noDead := cfg
	noDead.DeadLetterTopic = ""
	if err := service.RequeueForPoolFull(context.Background(), queue, noDead, last); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull when retries are exhausted, got %v", err)
	}
}
