package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/repository"
)

var errNoRows = sql.ErrNoRows

func TestSubmissionUpsertInsertsNewRow(t *testing.T) {
	t.Parallel()
	fdb := &fakeDB{}
	repo := repository.NewSubmissionRepository(fdb)
	sub := &model.Submission{UserID: 1, ProblemID: 7, Language: "python", Code: "print(1)", Status: model.StatusAccepted, ErrorMessage: "stale"}

	if err := repo.Upsert(context.Background(), nil, sub); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if fdb.txs != 1 {
		t.Fatalf("upsert should run in a transaction")
	}
	if sub.ID == "" || sub.Status != model.StatusSubmitted || sub.ErrorMessage != "" {
		t.Fatalf("unexpected submission after insert: %+v", sub)
	}
	if len(fdb.execs) != 1 || !strings.HasPrefix(strings.TrimSpace(fdb.execs[0].query), "INSERT INTO submissions") {
		t.Fatalf("expected insert, got %+v", fdb.execs)
	}
	if fdb.execs[0].args[0] != sub.ID || fdb.execs[0].args[3] != nil {
		t.Fatalf("unexpected insert args: %v", fdb.execs[0].args)
	}
}

func TestSubmissionUpsertReusesExistingRow(t *testing.T) {
	t.Parallel()
	created := time.Unix(1700000000, 0)
	fdb := &fakeDB{row: func(query string, args []interface{}) fakeRow {
		return fakeRow{values: []interface{}{"existing-id", created}}
	}}
	repo := repository.NewSubmissionRepository(fdb)
	sub := &model.Submission{UserID: 1, ProblemID: 7, ContestID: "c1", Language: "cpp", Code: "int main(){}"}

	if err := repo.Upsert(context.Background(), nil, sub); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if sub.ID != "existing-id" || !sub.CreatedAt.Equal(created) {
		t.Fatalf("expected existing row to be reused: %+v", sub)
	}
	if len(fdb.execs) != 1 || !strings.HasPrefix(strings.TrimSpace(fdb.execs[0].query), "UPDATE submissions") {
		t.Fatalf("expected update, got %+v", fdb.execs)
	}
	if !strings.Contains(fdb.execs[0].query, "test_cases_result = NULL") {
		t.Fatalf("update must reset judging fields: %s", fdb.execs[0].query)
	}
}

func TestSubmissionGetByIDDecodesResults(t *testing.T) {
	t.Parallel()
	results, _ := json.Marshal([]model.TestCaseResult{{Input: "1", Expected: "1", Output: "1", Status: model.TestCasePassed, Time: 4}})
	now := time.Now()
	fdb := &fakeDB{row: func(query string, args []interface{}) fakeRow {
		if args[0] != "sub-1" {
			return fakeRow{err: errNoRows}
		}
		return fakeRow{values: []interface{}{
			"sub-1", int64(1), int64(7), nil, "python", "print(1)", "accepted", 1, 1, int64(4),
			sql.NullString{}, results, sql.NullString{String: "traditional", Valid: true}, nil, now, now,
		}}
	}}
	repo := repository.NewSubmissionRepository(fdb)

	sub, err := repo.GetByID(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sub.Status != model.StatusAccepted || sub.JudgeMethod != "traditional" || len(sub.TestCasesResult) != 1 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.TestCasesResult[0].Time != 4 {
		t.Fatalf("unexpected test case result: %+v", sub.TestCasesResult[0])
	}
	if _, err := repo.GetByID(context.Background(), "nope"); !errors.Is(err, repository.ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

func TestSubmissionSaveResultAndList(t *testing.T) {
	t.Parallel()
	fdb := &fakeDB{}
	repo := repository.NewSubmissionRepository(fdb)
	res := model.JudgingResult{Status: model.StatusPending, ErrorMessage: "awaiting test cases", TestCasesResult: []model.TestCaseResult{}}
	if err := repo.SaveResult(context.Background(), nil, "sub-1", res); err != nil {
		t.Fatalf("save result failed: %v", err)
	}
	args := fdb.execs[0].args
	if args[0] != model.StatusPending || args[5] != "[]" || args[len(args)-1] != "sub-1" {
		t.Fatalf("unexpected save args: %v", args)
	}

	if err := repo.UpdateStatus(context.Background(), nil, "sub-1", model.StatusJudging); err != nil {
		t.Fatalf("update status failed: %v", err)
	}

	subs, err := repo.ListByProblemAndStatus(context.Background(), 7, []model.SubmissionStatus{model.StatusPending, model.StatusWrongAnswer})
	if err != nil || len(subs) != 0 {
		t.Fatalf("unexpected list: %v %v", subs, err)
	}
	if n := fdb.queryCount("status IN (?, ?)"); n != 1 {
		t.Fatalf("expected one placeholder per status")
	}
}
