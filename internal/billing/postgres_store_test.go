//go:build integration

package billing_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/database/dbtest"
	"github.com/vnmchuo/gen-broker/internal/jobs"
)

func newUser(t *testing.T, ledger billing.Ledger, credits int64) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	_, created, err := ledger.EnsureUser(context.Background(), id, id+"@example.com", credits)
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestPostgresLedger_DebitCredit(t *testing.T) {
	ledger := billing.NewPostgresStore(dbtest.Pool(t))
	ctx := context.Background()
	id := newUser(t, ledger, 10)

	bal, err := ledger.Debit(ctx, id, 4, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)

	_, err = ledger.Debit(ctx, id, 7, "test")
	var insufficient *billing.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(6), insufficient.Available)

	bal, err = ledger.Credit(ctx, id, 100, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(106), bal)

	_, err = ledger.Debit(ctx, "it-missing", 1, "test")
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}

func TestPostgresLedger_CreditOverflow(t *testing.T) {
	ledger := billing.NewPostgresStore(dbtest.Pool(t))
	ctx := context.Background()
	id := newUser(t, ledger, 10)

	_, err := ledger.Credit(ctx, id, math.MaxInt64, "test")
	assert.ErrorIs(t, err, billing.ErrBalanceOverflow)

	_, err = ledger.ApplyPurchase(ctx, &billing.Purchase{
		SessionID: "cs_" + uuid.NewString(), UserID: id, PackID: "pack_1000", Credits: math.MaxInt64,
	})
	assert.ErrorIs(t, err, billing.ErrBalanceOverflow)

	bal, err := ledger.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
}

func TestPostgresLedger_EnsureUserTopsUp(t *testing.T) {
	ledger := billing.NewPostgresStore(dbtest.Pool(t))
	id := newUser(t, ledger, 1000)

	u, created, err := ledger.EnsureUser(context.Background(), id, "", 1000)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(2000), u.Credits)
}

func TestPostgresLedger_ChargeJobConcurrent(t *testing.T) {
	pool := dbtest.Pool(t)
	ledger := billing.NewPostgresStore(pool)
	store := jobs.NewPostgresStore(pool)
	ctx := context.Background()
	id := newUser(t, ledger, 10)

	var ok, refused atomic.Int32
	var wg sync.WaitGroup
	ids := []string{uuid.NewString(), uuid.NewString()}
	for _, jobID := range ids {
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			_, err := ledger.ChargeJob(ctx, &jobs.Job{
				ID: jobID, UserID: id, ModelID: "m", UserTier: "free", CreatedAt: time.Now(),
			}, 10)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, billing.ErrInsufficientFunds):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(jobID)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), refused.Load())
	bal, err := ledger.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, bal)

	list, err := store.ListByUser(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1, "the refused charge wrote no job")
}

func TestPostgresLedger_ApplyPurchaseOnce(t *testing.T) {
	ledger := billing.NewPostgresStore(dbtest.Pool(t))
	ctx := context.Background()
	id := newUser(t, ledger, 5)
	p := &billing.Purchase{SessionID: "cs_" + uuid.NewString(), UserID: id, PackID: "pack_1000", Credits: 1000, AmountCents: 1250}

	bal, err := ledger.ApplyPurchase(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1005), bal)

	_, err = ledger.ApplyPurchase(ctx, p)
	assert.ErrorIs(t, err, billing.ErrDuplicatePurchase)

	bal, _ = ledger.GetBalance(ctx, id)
	assert.Equal(t, int64(1005), bal)
}
