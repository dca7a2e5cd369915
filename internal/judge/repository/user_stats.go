package repository

import (
	"context"

	"codejudge/internal/common/db"
)

// UserStatsRepository updates per-user judging counters.
type UserStatsRepository interface {
	IncrementSolved(ctx context.Context, tx db.Transaction, userID int64) error
}

type MySQLUserStatsRepository struct {
	db db.Database
}

func NewUserStatsRepository(database db.Database) *MySQLUserStatsRepository {
	return &MySQLUserStatsRepository{db: database}
}

func (r *MySQLUserStatsRepository) IncrementSolved(ctx context.Context, tx db.Transaction, userID int64) error {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, "UPDATE users SET solved_problems = solved_problems + 1 WHERE id = ?", userID)
	return err
}
