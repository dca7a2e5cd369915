package service

import (
	"context"
	"sync"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPoolWorkers     = 4
	defaultPoolAcquireWait = 2 * time.Second
)

// Task is a unit of work run by the pool.
type Task func(ctx context.Context)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers     int           `yaml:"poolSize"`
	QueueSize   int           `yaml:"queueSize"`
	AcquireWait time.Duration `yaml:"acquireWait"`
}

// Pool runs tasks on a fixed set of workers fed by a bounded queue.
type Pool struct {
	tasks       chan Task
	acquireWait time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts cfg.Workers workers. Tasks receive a context canceled by Stop.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultPoolWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.AcquireWait <= 0 {
		cfg.AcquireWait = defaultPoolAcquireWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:       make(chan Task, cfg.QueueSize),
		acquireWait: cfg.AcquireWait,
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// TrySubmit queues task without waiting.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("worker pool is stopped")
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

// Submit queues task, waiting up to the acquire timeout for queue space.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("worker pool is stopped")
	}
	timer := time.NewTimer(p.acquireWait)
	defer timer.Stop()
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

// Stop rejects new tasks, cancels running ones and waits for workers to exit.
// Queued tasks still run, with a canceled context.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(p.ctx, "judge task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	task(p.ctx)
}
