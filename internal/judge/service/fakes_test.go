package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/repository"
	"codejudge/pkg/utils/contextkey"
)

type memSubmissions struct {
	mu   sync.Mutex
	rows map[string]*model.Submission
	seq  int
}

func newMemSubmissions() *memSubmissions {
	return &memSubmissions{rows: make(map[string]*model.Submission)}
}

func (m *memSubmissions) Upsert(ctx context.Context, tx db.Transaction, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ResetJudging()
	for _, row := range m.rows {
		if row.UserID == sub.UserID && row.ProblemID == sub.ProblemID {
			sub.ID = row.ID
			break
		}
	}
	if sub.ID == "" {
		m.seq++
		sub.ID = fmt.Sprintf("sub-%d", m.seq)
	}
	cp := *sub
	m.rows[sub.ID] = &cp
	return nil
}

func (m *memSubmissions) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memSubmissions) UpdateStatus(ctx context.Context, tx db.Transaction, id string, status model.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	row.Status = status
	return nil
}

func (m *memSubmissions) SaveResult(ctx context.Context, tx db.Transaction, id string, res model.JudgingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	row.ApplyResult(res)
	return nil
}

func (m *memSubmissions) ListByProblemAndStatus(ctx context.Context, problemID int64, statuses []model.SubmissionStatus) ([]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Submission
	for _, row := range m.rows {
		for _, st := range statuses {
			if row.ProblemID == problemID && row.Status == st {
				cp := *row
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *memSubmissions) get(id string) model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type memProblems struct {
	mu        sync.Mutex
	problems  map[int64]*model.Problem
	tests     map[int64][]model.TestCase
	accepted  map[int64]int
	submitted map[int64]int
	dropped   map[int64]int
}

func newMemProblems(problems ...model.Problem) *memProblems {
	m := &memProblems{
		problems:  make(map[int64]*model.Problem),
		tests:     make(map[int64][]model.TestCase),
		accepted:  make(map[int64]int),
		submitted: make(map[int64]int),
		dropped:   make(map[int64]int),
	}
	for i := range problems {
		p := problems[i]
		m.problems[p.ID] = &p
	}
	return m
}

func (m *memProblems) GetByID(ctx context.Context, id int64) (*model.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProblems) ListTestCases(ctx context.Context, id int64) ([]model.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TestCase(nil), m.tests[id]...), nil
}

func (m *memProblems) AddTestCase(ctx context.Context, tc *model.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc.ID = int64(len(m.tests[tc.ProblemID]) + 1)
	m.tests[tc.ProblemID] = append(m.tests[tc.ProblemID], *tc)
	return nil
}

func (m *memProblems) IncrementCounters(ctx context.Context, tx db.Transaction, id int64, accepted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted[id]++
	if accepted {
		m.accepted[id]++
	}
	return nil
}

func (m *memProblems) InvalidateProblem(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[id]++
	return nil
}

func (m *memProblems) invalidations(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[id]
}

func (m *memProblems) counters(id int64) (accepted, submitted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted[id], m.submitted[id]
}

type memUserStats struct {
	mu     sync.Mutex
	solved map[int64]int
}

func (m *memUserStats) IncrementSolved(ctx context.Context, tx db.Transaction, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.solved == nil {
		m.solved = make(map[int64]int)
	}
	m.solved[userID]++
	return nil
}

func (m *memUserStats) count(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solved[userID]
}

type fakeTransactor struct{}

func (fakeTransactor) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(nil)
}

type memStatus struct {
	mu      sync.Mutex
	current map[string]model.JudgeStatus
	history map[string][]model.SubmissionStatus
}

func newMemStatus() *memStatus {
	return &memStatus{current: make(map[string]model.JudgeStatus), history: make(map[string][]model.SubmissionStatus)}
}

func (m *memStatus) Get(ctx context.Context, id string) (model.JudgeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.current[id]
	if !ok {
		return model.JudgeStatus{}, fmt.Errorf("status %s not found", id)
	}
	return st, nil
}

func (m *memStatus) Save(ctx context.Context, st model.JudgeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[st.SubmissionID] = st
	m.history[st.SubmissionID] = append(m.history[st.SubmissionID], st.Status)
	return nil
}

func (m *memStatus) finals(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.history[id] {
		if st.IsTerminal() {
			n++
		}
	}
	return n
}

// scriptedJudge returns verdict(task) or blocks until ctx is done when block is set.
type scriptedJudge struct {
	mu      sync.Mutex
	calls   int
	traceID interface{}
	verdict func(task orchestrator.Task) (model.JudgingResult, error)
	started chan struct{}
	block   bool
}

func (j *scriptedJudge) Judge(ctx context.Context, task orchestrator.Task) (model.JudgingResult, error) {
	j.mu.Lock()
	j.calls++
	j.traceID = ctx.Value(contextkey.TraceID)
	block := j.block
	j.mu.Unlock()
	if j.started != nil {
		j.started <- struct{}{}
	}
	if block {
		<-ctx.Done()
		return model.JudgingResult{Status: model.StatusSystemError, ErrorMessage: "Judging canceled", TestCasesResult: []model.TestCaseResult{}}, ctx.Err()
	}
	return j.verdict(task)
}

func (j *scriptedJudge) lastTraceID() interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.traceID
}

func (j *scriptedJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

// passAll accepts when the problem has test cases and reports pending otherwise.
func passAll(task orchestrator.Task) (model.JudgingResult, error) {
	if len(task.TestCases) == 0 {
		return model.JudgingResult{Status: model.StatusPending, ErrorMessage: "awaiting test cases", TestCasesResult: []model.TestCaseResult{}}, nil
	}
	n := len(task.TestCases)
	return model.JudgingResult{
		Status:          model.StatusAccepted,
		TestCasesPassed: n,
		TotalTestCases:  n,
		TestCasesResult: make([]model.TestCaseResult, n),
		JudgeMethod:     model.JudgeMethodTraditional,
	}, nil
}

type memArchive struct {
	mu    sync.Mutex
	saved map[string]model.JudgingResult
}

func (m *memArchive) Save(ctx context.Context, id string, res model.JudgingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]model.JudgingResult)
	}
	m.saved[id] = res
	return nil
}

func (m *memArchive) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.saved[id]
	return ok
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

func (f *fakeQueue) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
