package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/catalog"
)

type mockDispatcher struct {
	calls    int
	dispatch func() (string, error)
}

func (m *mockDispatcher) Dispatch(ctx context.Context, model *catalog.ModelDescriptor, params map[string]any, callbackURL string) (string, error) {
	m.calls++
	return m.dispatch()
}

func (m *mockDispatcher) TaskInfo(ctx context.Context, taskID string) (*Task, error) {
	return &Task{ID: taskID, State: "success"}, nil
}

func (m *mockDispatcher) Name() string { return "mock" }

var model = &catalog.ModelDescriptor{ID: "m", Endpoint: "m"}

func TestBreaker_PassesThrough(t *testing.T) {
	inner := &mockDispatcher{dispatch: func() (string, error) { return "task-1", nil }}
	b := NewBreaker(inner, DefaultBreakerSettings(), zap.NewNop())

	id, err := b.Dispatch(context.Background(), model, nil, "cb")
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, "mock", b.Name())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &mockDispatcher{dispatch: func() (string, error) {
		return "", fmt.Errorf("%w: status 502", ErrDispatchFailed)
	}}
	b := NewBreaker(inner, BreakerSettings{MaxFailures: 3, OpenFor: time.Minute}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Dispatch(ctx, model, nil, "cb")
		assert.ErrorIs(t, err, ErrDispatchFailed)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Dispatch(ctx, model, nil, "cb")
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open circuit does not reach the provider")

	task, err := b.TaskInfo(ctx, "task-9")
	require.NoError(t, err)
	assert.Equal(t, "task-9", task.ID)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	fail := true
	inner := &mockDispatcher{dispatch: func() (string, error) {
		if fail {
			return "", ErrDispatchFailed
		}
		return "task-2", nil
	}}
	b := NewBreaker(inner, BreakerSettings{MaxFailures: 1, OpenFor: 20 * time.Millisecond}, zap.NewNop())
	ctx := context.Background()

	_, err := b.Dispatch(ctx, model, nil, "cb")
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	fail = false

	id, err := b.Dispatch(ctx, model, nil, "cb")
	require.NoError(t, err)
	assert.Equal(t, "task-2", id)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled request", fmt.Errorf("%w: %w", ErrDispatchFailed, context.Canceled)},
		{"rejected input", &StatusError{Code: 422, Msg: "invalid duration"}},
		{"bad request", &StatusError{Code: 400, Msg: "prompt too long"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fail := true
			inner := &mockDispatcher{dispatch: func() (string, error) {
				if fail {
					return "", tt.err
				}
				return "task-ok", nil
			}}
			b := NewBreaker(inner, BreakerSettings{MaxFailures: 3, OpenFor: time.Minute}, zap.NewNop())
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				_, err := b.Dispatch(ctx, model, nil, "cb")
				assert.ErrorIs(t, err, tt.err)
			}
			assert.Equal(t, gobreaker.StateClosed, b.State())

			fail = false
			id, err := b.Dispatch(ctx, model, nil, "cb")
			require.NoError(t, err)
			assert.Equal(t, "task-ok", id)
			assert.Equal(t, 6, inner.calls)
		})
	}
}

func TestBreaker_ProviderWideCodesTrip(t *testing.T) {
	for _, code := range []int{401, 402, 429, 503} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			inner := &mockDispatcher{dispatch: func() (string, error) {
				return "", &StatusError{Code: code, Msg: "nope"}
			}}
			b := NewBreaker(inner, BreakerSettings{MaxFailures: 2, OpenFor: time.Minute}, zap.NewNop())

			for i := 0; i < 2; i++ {
				_, err := b.Dispatch(context.Background(), model, nil, "cb")
				assert.ErrorIs(t, err, ErrDispatchFailed)
			}
			assert.Equal(t, gobreaker.StateOpen, b.State())
		})
	}
}

func TestIsCallerError(t *testing.T) {
	assert.True(t, IsCallerError(context.Canceled))
	assert.True(t, IsCallerError(fmt.Errorf("wrapped: %w", &StatusError{Code: 404})))
	assert.False(t, IsCallerError(&StatusError{Code: 500}))
	assert.False(t, IsCallerError(&StatusError{Code: 403}))
	assert.False(t, IsCallerError(ErrDispatchFailed))
	assert.False(t, IsCallerError(context.DeadlineExceeded))
}
