package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/config"
	"github.com/vnmchuo/gen-broker/internal/seeder"
)

func TestOpenStores_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStores(ctx, &config.Config{StoreDriver: "memory"}, true, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Pool)
	bal, err := s.Ledger.GetBalance(ctx, seeder.DevUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(seeder.DevUserCredits), bal)
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), &config.Config{StoreDriver: "mongo"}, false, zap.NewNop())
	assert.Error(t, err)
}
