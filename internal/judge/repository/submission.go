package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"

	"github.com/google/uuid"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepository persists submissions. tx may be nil.
type SubmissionRepository interface {
	// Upsert stores the submission for its (user, problem) pair, reusing and
	// resetting an existing row. sub.ID and sub.CreatedAt are filled in.
	Upsert(ctx context.Context, tx db.Transaction, sub *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	UpdateStatus(ctx context.Context, tx db.Transaction, submissionID string, status model.SubmissionStatus) error
	SaveResult(ctx context.Context, tx db.Transaction, submissionID string, res model.JudgingResult) error
	ListByProblemAndStatus(ctx context.Context, problemID int64, statuses []model.SubmissionStatus) ([]*model.Submission, error)
}

type MySQLSubmissionRepository struct {
	db db.Database
}

func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "id, user_id, problem_id, contest_id, language, code, status, test_cases_passed, total_test_cases, execution_time_ms, error_message, test_cases_result, judge_method, ai_analysis, created_at, updated_at"

func (r *MySQLSubmissionRepository) Upsert(ctx context.Context, tx db.Transaction, sub *model.Submission) error {
	if sub == nil {
		return errors.New("submission is nil")
	}
	if sub.UserID <= 0 {
		return errors.New("userID is required")
	}
	if sub.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if tx == nil {
		return r.db.Transaction(ctx, func(tx db.Transaction) error {
			return r.Upsert(ctx, tx, sub)
		})
	}

	sub.ResetJudging()
	now := time.Now()
	var existingID string
	var createdAt time.Time
	err := tx.QueryRow(ctx,
		"SELECT id, created_at FROM submissions WHERE user_id = ? AND problem_id = ? LIMIT 1 FOR UPDATE",
		sub.UserID, sub.ProblemID,
	).Scan(&existingID, &createdAt)
	switch {
	case err == nil:
		query := `
			UPDATE submissions
			SET contest_id = ?, language = ?, code = ?, status = ?, test_cases_passed = 0, total_test_cases = 0,
				execution_time_ms = 0, error_message = '', test_cases_result = NULL, judge_method = '', ai_analysis = '', updated_at = ?
			WHERE id = ?
		`
		if _, err := tx.Exec(ctx, query, nullString(sub.ContestID), sub.Language, sub.Code, sub.Status, now, existingID); err != nil {
			return err
		}
		sub.ID = existingID
		sub.CreatedAt = createdAt
	case db.IsNoRows(err):
		sub.ID = uuid.NewString()
		sub.CreatedAt = now
		query := `
			INSERT INTO submissions (id, user_id, problem_id, contest_id, language, code, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.Exec(ctx, query, sub.ID, sub.UserID, sub.ProblemID, nullString(sub.ContestID), sub.Language, sub.Code, sub.Status, now, now); err != nil {
			return err
		}
	default:
		return err
	}
	sub.UpdatedAt = now
	return nil
}

func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	row := r.db.QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ? LIMIT 1", submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (r *MySQLSubmissionRepository) UpdateStatus(ctx context.Context, tx db.Transaction, submissionID string, status model.SubmissionStatus) error {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now(), submissionID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *MySQLSubmissionRepository) SaveResult(ctx context.Context, tx db.Transaction, submissionID string, res model.JudgingResult) error {
	results, err := json.Marshal(res.TestCasesResult)
	if err != nil {
		return err
	}
	query := `
		UPDATE submissions
		SET status = ?, test_cases_passed = ?, total_test_cases = ?, execution_time_ms = ?, error_message = ?,
			test_cases_result = ?, judge_method = ?, ai_analysis = ?, updated_at = ?
		WHERE id = ?
	`
	out, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		res.Status,
		res.TestCasesPassed,
		res.TotalTestCases,
		res.ExecutionTimeMs,
		res.ErrorMessage,
		string(results),
		res.JudgeMethod,
		res.AIAnalysis,
		time.Now(),
		submissionID,
	)
	if err != nil {
		return err
	}
	return requireAffected(out)
}

func (r *MySQLSubmissionRepository) ListByProblemAndStatus(ctx context.Context, problemID int64, statuses []model.SubmissionStatus) ([]*model.Submission, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, problemID)
	for _, st := range statuses {
		args = append(args, st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := "SELECT " + submissionColumns + " FROM submissions WHERE problem_id = ? AND status IN (" + placeholders + ") ORDER BY created_at"
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	sub := &model.Submission{}
	var contestID, errorMessage, judgeMethod, aiAnalysis sql.NullString
	var results []byte
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProblemID,
		&contestID,
		&sub.Language,
		&sub.Code,
		&sub.Status,
		&sub.TestCasesPassed,
		&sub.TotalTestCases,
		&sub.ExecutionTimeMs,
		&errorMessage,
		&results,
		&judgeMethod,
		&aiAnalysis,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.ContestID = contestID.String
	sub.ErrorMessage = errorMessage.String
	sub.JudgeMethod = judgeMethod.String
	sub.AIAnalysis = aiAnalysis.String
	if len(results) > 0 {
		if err := json.Unmarshal(results, &sub.TestCasesResult); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

func requireAffected(res db.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
