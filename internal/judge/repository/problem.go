package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
)

const (
	defaultProblemCacheTTL      = 30 * time.Minute
	defaultProblemCacheEmptyTTL = 5 * time.Minute
	problemKeyPrefix            = "judge:problem:"
	testCasesKeyPrefix          = "judge:testcases:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository reads problems and their test cases. Reads go through the
// cache when one is configured.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*model.Problem, error)
	ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
	AddTestCase(ctx context.Context, tc *model.TestCase) error
	IncrementCounters(ctx context.Context, tx db.Transaction, problemID int64, accepted bool) error
	// InvalidateProblem drops the cached problem. Call it after the counter
	// transaction commits.
	InvalidateProblem(ctx context.Context, problemID int64) error
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) *MySQLProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemCacheTTL, defaultProblemCacheEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &MySQLProblemRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *MySQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	if r.cache == nil {
		return r.getByIDFromDB(ctx, problemID)
	}
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemKey(problemID),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(p *model.Problem) bool { return p == nil },
		marshalJSON[*model.Problem],
		unmarshalJSON[*model.Problem],
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getByIDFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) getByIDFromDB(ctx context.Context, problemID int64) (*model.Problem, error) {
	row := r.db.QueryRow(ctx,
		"SELECT id, title, time_limit_ms, memory_limit_mb, accepted_count, submission_count FROM problems WHERE id = ? LIMIT 1",
		problemID,
	)
	p := &model.Problem{}
	if err := row.Scan(&p.ID, &p.Title, &p.TimeLimitMs, &p.MemoryLimitMB, &p.AcceptedCount, &p.SubmissionCount); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListTestCases returns test cases in insertion order. An empty list is cached
// as a miss marker until AddTestCase invalidates it.
func (r *MySQLProblemRepository) ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	if r.cache == nil {
		return r.listTestCasesFromDB(ctx, problemID)
	}
	return cache.GetWithCached[[]model.TestCase](
		ctx,
		r.cache,
		testCasesKey(problemID),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(tcs []model.TestCase) bool { return len(tcs) == 0 },
		marshalJSON[[]model.TestCase],
		unmarshalJSON[[]model.TestCase],
		func(ctx context.Context) ([]model.TestCase, error) {
			return r.listTestCasesFromDB(ctx, problemID)
		},
	)
}

func (r *MySQLProblemRepository) listTestCasesFromDB(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id, problem_id, input, expected_output, is_hidden FROM test_cases WHERE problem_id = ? ORDER BY id",
		problemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Input, &tc.ExpectedOutput, &tc.IsHidden); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// AddTestCase inserts tc and invalidates the cached list.
func (r *MySQLProblemRepository) AddTestCase(ctx context.Context, tc *model.TestCase) error {
	if tc == nil {
		return errors.New("test case is nil")
	}
	insert := func(ctx context.Context) error {
		res, err := r.db.Exec(ctx,
			"INSERT INTO test_cases (problem_id, input, expected_output, is_hidden) VALUES (?, ?, ?, ?)",
			tc.ProblemID, tc.Input, tc.ExpectedOutput, tc.IsHidden,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		tc.ID = id
		return nil
	}
	if r.cache == nil {
		return insert(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, testCasesKey(tc.ProblemID), insert)
}

// IncrementCounters bumps submission_count, and accepted_count when accepted.
func (r *MySQLProblemRepository) IncrementCounters(ctx context.Context, tx db.Transaction, problemID int64, accepted bool) error {
	query := "UPDATE problems SET submission_count = submission_count + 1 WHERE id = ?"
	if accepted {
		query = "UPDATE problems SET submission_count = submission_count + 1, accepted_count = accepted_count + 1 WHERE id = ?"
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, problemID)
	return err
}

func (r *MySQLProblemRepository) InvalidateProblem(ctx context.Context, problemID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, problemKey(problemID))
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func testCasesKey(problemID int64) string {
	return testCasesKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalJSON[T any](v T) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON[T any](data string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(data), &v)
	return v, err
}
