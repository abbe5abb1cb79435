package seeder_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/seeder"
	"github.com/vnmchuo/gen-broker/internal/store/memstore"
)

func TestSeedAdminKey(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	key, err := seeder.SeedAdminKey(ctx, store, "ops", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "gbk_"))

	k, err := store.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ops", k.Name)

	fixed, err := seeder.SeedAdminKey(ctx, store, "ci", "fixed-key")
	require.NoError(t, err)
	assert.Equal(t, "fixed-key", fixed)
}

func TestSeedDevUser_Once(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	seeder.SeedDevUser(ctx, store, zap.NewNop())
	seeder.SeedDevUser(ctx, store, zap.NewNop())

	bal, err := store.GetBalance(ctx, seeder.DevUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(seeder.DevUserCredits), bal)
}
