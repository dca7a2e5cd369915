// Package strategy picks between the AI judge and the traditional judge.
package strategy

import (
	"context"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Judge produces a verdict for a task.
type Judge interface {
	Judge(ctx context.Context, task orchestrator.Task) (model.JudgingResult, error)
}

// Readiness is implemented by judges that need an initialization probe.
type Readiness interface {
	Ready(ctx context.Context) error
}

// Traditional adapts the orchestrator to the Judge interface.
type Traditional struct {
	orch *orchestrator.Orchestrator
}

func NewTraditional(orch *orchestrator.Orchestrator) *Traditional {
	return &Traditional{orch: orch}
}

func (t *Traditional) Judge(ctx context.Context, task orchestrator.Task) (model.JudgingResult, error) {
	res, err := t.orch.Judge(ctx, task)
	res.JudgeMethod = model.JudgeMethodTraditional
	return res, err
}

// Selector routes to primary when it is enabled and initialized, and falls
// back silently on any primary failure. Tasks without test cases always go
// to the fallback, which reports them as pending.
type Selector struct {
	enabled     bool
	initialized bool
	primary     Judge
	fallback    Judge
}

// NewSelector builds a selector. When primary implements Readiness it is
// probed once here; a failed probe leaves the primary unused.
func NewSelector(ctx context.Context, enabled bool, primary, fallback Judge) *Selector {
	s := &Selector{enabled: enabled, primary: primary, fallback: fallback}
	if !enabled || primary == nil {
		return s
	}
	s.initialized = true
	if probe, ok := primary.(Readiness); ok {
		if err := probe.Ready(ctx); err != nil {
			logger.Warn(ctx, "ai judge unavailable, using traditional judge", zap.Error(err))
			s.initialized = false
		}
	}
	return s
}

// UsesPrimary reports whether judging is routed to the primary judge.
func (s *Selector) UsesPrimary() bool {
	return s.enabled && s.initialized && s.primary != nil
}

func (s *Selector) Judge(ctx context.Context, task orchestrator.Task) (model.JudgingResult, error) {
	if s.UsesPrimary() && len(task.TestCases) > 0 {
		res, err := s.primary.Judge(ctx, task)
		if err == nil {
			return res, nil
		}
		logger.Warn(ctx, "ai judge failed, falling back to traditional judge",
			zap.String("submission_id", task.SubmissionID),
			zap.Error(err))
	}
	return s.fallback.Judge(ctx, task)
}
