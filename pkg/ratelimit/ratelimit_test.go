package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type mockLimiterStore struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func TestAllow_KeysByUser(t *testing.T) {
	store := &mockLimiterStore{allowed: true}
	l := NewTestLimiter(store)

	ok, err := l.Allow(context.Background(), "u1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ratelimit:submit:u1"}, store.keys)
}

func TestAllow_Denied(t *testing.T) {
	l := NewTestLimiter(&mockLimiterStore{allowed: false})
	ok, err := l.Allow(context.Background(), "u1")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAllow_StoreError(t *testing.T) {
	l := NewTestLimiter(&mockLimiterStore{err: errors.New("redis down")})
	ok, err := l.Allow(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)
}
