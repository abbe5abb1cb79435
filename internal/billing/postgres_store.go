package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/gen-broker/internal/jobs"
)

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Ledger {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, email, credits, tier, credits_reset_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u User
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.Email, &u.Credits, &u.Tier, &u.CreditsResetAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := s.db.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return credits, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current < amount {
			return &InsufficientFundsError{Required: amount, Available: current}
		}
		balance, err = applyDelta(ctx, tx, userID, -amount, EntryDebit, reference)
		return err
	})
	return balance, err
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !CanCredit(current, amount) {
			return ErrBalanceOverflow
		}
		balance, err = applyDelta(ctx, tx, userID, amount, EntryCredit, reference)
		return err
	})
	return balance, err
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, balance int64, reference string) (int64, error) {
	if balance < 0 {
		return 0, ErrInvalidAmount
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		_, err = applyDelta(ctx, tx, userID, balance-current, EntryReset, reference)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID, email string, initialCredits int64) (*User, bool, error) {
	if initialCredits < 0 {
		return nil, false, ErrInvalidAmount
	}
	var (
		u       User
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		// xmax = 0 only for freshly inserted rows.
		query := `
			INSERT INTO users (id, email, credits, tier)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET credits = users.credits + EXCLUDED.credits, updated_at = now()
			RETURNING id, email, credits, tier, credits_reset_at, created_at, updated_at, (xmax = 0)
		`
		err := tx.QueryRow(ctx, query, userID, email, initialCredits, TierFree).Scan(
			&u.ID, &u.Email, &u.Credits, &u.Tier, &u.CreditsResetAt, &u.CreatedAt, &u.UpdatedAt, &created,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		if initialCredits == 0 {
			return nil
		}
		return insertEntry(ctx, tx, userID, EntryCredit, initialCredits, u.Credits, "account setup")
	})
	if err != nil {
		return nil, false, err
	}
	return &u, created, nil
}

func (s *PostgresStore) ChargeJob(ctx context.Context, job *jobs.Job, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return 0, fmt.Errorf("failed to encode job parameters: %w", err)
	}

	var balance int64
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		// The balance read earlier by the caller is stale by now; only the
		// locked read counts.
		current, err := lockBalance(ctx, tx, job.UserID)
		if err != nil {
			return err
		}
		if current < amount {
			return &InsufficientFundsError{Required: amount, Available: current}
		}

		query := `
			INSERT INTO jobs (id, user_id, model_id, model_type, parameters, credits_charged, user_tier, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err = tx.Exec(ctx, query,
			job.ID, job.UserID, job.ModelID, job.ModelType, params, amount, job.UserTier, jobs.StatusPending, job.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		balance, err = applyDelta(ctx, tx, job.UserID, -amount, EntryDebit, job.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	job.Status = jobs.StatusPending
	job.CreditsCharged = amount
	return balance, nil
}

func (s *PostgresStore) ApplyPurchase(ctx context.Context, p *Purchase) (int64, error) {
	if p.Credits <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockBalance(ctx, tx, p.UserID)
		if err != nil {
			return err
		}
		if !CanCredit(current, p.Credits) {
			return ErrBalanceOverflow
		}

		// The session id is the idempotency key; a redelivered webhook hits
		// the conflict and the transaction rolls back with no credit.
		var inserted bool
		err = tx.QueryRow(ctx, `
			INSERT INTO purchases (session_id, user_id, pack_id, credits, amount_cents, payment_intent_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id) DO NOTHING
			RETURNING true
		`, p.SessionID, p.UserID, p.PackID, p.Credits, p.AmountCents, p.PaymentIntentID).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicatePurchase
		}
		if err != nil {
			return fmt.Errorf("failed to record purchase: %w", err)
		}

		balance, err = applyDelta(ctx, tx, p.UserID, p.Credits, EntryPurchase, p.SessionID)
		return err
	})
	return balance, err
}

func (s *PostgresStore) ResetTierCredits(ctx context.Context, tier Tier, credits int64, now, next time.Time) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH due AS (
				SELECT id, credits FROM users
				WHERE tier = $1 AND (credits_reset_at IS NULL OR credits_reset_at <= $4)
				FOR UPDATE
			)
			UPDATE users u
			SET credits = $2, credits_reset_at = $3, updated_at = now()
			FROM due
			WHERE u.id = due.id
			RETURNING u.id, $2 - due.credits
		`, tier, credits, next, now)
		if err != nil {
			return fmt.Errorf("failed to reset credits: %w", err)
		}
		type reset struct {
			id    string
			delta int64
		}
		var resets []reset
		for rows.Next() {
			var r reset
			if err := rows.Scan(&r.id, &r.delta); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan reset user: %w", err)
			}
			resets = append(resets, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to reset credits: %w", err)
		}
		for _, r := range resets {
			if err := insertEntry(ctx, tx, r.id, EntryReset, r.delta, credits, "weekly reset"); err != nil {
				return err
			}
		}
		n = len(resets)
		return nil
	})
	return n, err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// lockBalance reads the balance with a row lock, serializing concurrent
// mutations for the same user until the transaction ends.
func lockBalance(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var credits int64
	err := tx.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to lock user: %w", err)
	}
	return credits, nil
}

func applyDelta(ctx context.Context, tx pgx.Tx, userID string, delta int64, kind EntryKind, reference string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE users SET credits = credits + $2, updated_at = now()
		WHERE id = $1
		RETURNING credits
	`, userID, delta).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := insertEntry(ctx, tx, userID, kind, delta, balance, reference); err != nil {
		return 0, err
	}
	return balance, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, userID string, kind EntryKind, amount, balanceAfter int64, reference string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), userID, kind, amount, balanceAfter, reference)
	if err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}
