package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockStore struct {
	jobs  map[string]*Job
	gets  int
	getFn func(ctx context.Context, id string) (*Job, error)
}

func (m *mockStore) Get(ctx context.Context, id string) (*Job, error) {
	m.gets++
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockStore) Finish(ctx context.Context, id string, status Status, resultURL, errMsg *string, at time.Time) (bool, error) {
	return false, nil
}

func (m *mockStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	return nil, nil
}

func (m *mockStore) DeleteCreatedBefore(ctx context.Context, tier string, cutoff time.Time) (int64, error) {
	return 0, nil
}

func setupCache(t *testing.T, store Store) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCachedStore(store, rdb, zap.NewNop()), mr
}

func TestCachedStore_CachesTerminalJobs(t *testing.T) {
	url := "https://cdn/a.png"
	store := &mockStore{jobs: map[string]*Job{
		"task-1": {ID: "task-1", UserID: "u1", Status: StatusCompleted, ResultURL: &url},
	}}
	cached, mr := setupCache(t, store)
	ctx := context.Background()

	j, err := cached.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.True(t, mr.Exists("job:task-1"))

	j, err = cached.Get(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, j.ResultURL)
	assert.Equal(t, url, *j.ResultURL)
	assert.Equal(t, 1, store.gets, "second read served from redis")
}

func TestCachedStore_SkipsPendingJobs(t *testing.T) {
	store := &mockStore{jobs: map[string]*Job{
		"task-1": {ID: "task-1", Status: StatusPending},
	}}
	cached, mr := setupCache(t, store)
	ctx := context.Background()

	_, err := cached.Get(ctx, "task-1")
	require.NoError(t, err)
	_, err = cached.Get(ctx, "task-1")
	require.NoError(t, err)

	assert.False(t, mr.Exists("job:task-1"))
	assert.Equal(t, 2, store.gets)
}

func TestCachedStore_NotFound(t *testing.T) {
	cached, _ := setupCache(t, &mockStore{jobs: map[string]*Job{}})
	_, err := cached.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCachedStore_RedisDownFallsBack(t *testing.T) {
	store := &mockStore{jobs: map[string]*Job{
		"task-1": {ID: "task-1", Status: StatusFailed},
	}}
	cached, mr := setupCache(t, store)
	mr.Close()

	j, err := cached.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
}
