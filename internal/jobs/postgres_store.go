package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const jobColumns = `id, user_id, model_id, model_type, parameters, credits_charged, user_tier,
	status, result_url, error_message, created_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		params []byte
	)
	err := row.Scan(
		&j.ID, &j.UserID, &j.ModelID, &j.ModelType, &params, &j.CreditsCharged, &j.UserTier,
		&j.Status, &j.ResultURL, &j.ErrorMessage, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode job parameters: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	j, err := scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Finish(ctx context.Context, id string, status Status, resultURL, errMsg *string, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finish: %q is not a terminal status", status)
	}

	query := `
		UPDATE jobs
		SET status = $2, result_url = $3, error_message = $4, completed_at = $5
		WHERE id = $1 AND status = $6
	`
	tag, err := s.db.Exec(ctx, query, id, status, resultURL, errMsg, at, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to finish job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return false, ErrJobNotFound
	}
	return false, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteCreatedBefore(ctx context.Context, tier string, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE user_tier = $1 AND created_at < $2`, tier, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
