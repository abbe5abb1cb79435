package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/jobs"
	"github.com/vnmchuo/gen-broker/internal/metrics"
	"github.com/vnmchuo/gen-broker/internal/provider"
	"github.com/vnmchuo/gen-broker/internal/store/memstore"
)

type mockPoller struct {
	calls    int
	taskInfo func(taskID string) (*provider.Task, error)
}

func (m *mockPoller) TaskInfo(ctx context.Context, taskID string) (*provider.Task, error) {
	m.calls++
	if m.taskInfo == nil {
		return &provider.Task{ID: taskID}, nil
	}
	return m.taskInfo(taskID)
}

func setup(t *testing.T, poller *mockPoller) (*Reconciler, *memstore.Store, *metrics.Metrics) {
	t.Helper()
	store := memstore.New()
	store.PutUser(billing.User{ID: "u1", Credits: 10})
	store.PutJob(jobs.Job{ID: "task-1", UserID: "u1", Status: jobs.StatusPending, CreditsCharged: 10, CreatedAt: time.Now()})
	if poller == nil {
		poller = &mockPoller{}
	}
	m := metrics.New("test")
	return New(store, poller, m, zap.NewNop()), store, m
}

func TestOnCallback_SuccessCompletesJob(t *testing.T) {
	r, store, m := setup(t, nil)
	ctx := context.Background()

	ack, err := r.OnCallback(ctx, Callback{
		TaskID:  "task-1",
		State:   "success",
		Payload: json.RawMessage(`"{\"resultUrls\":[\"https://cdn/out.png\"]}"`),
	})
	require.NoError(t, err)
	assert.True(t, ack.Applied)
	assert.Equal(t, jobs.StatusCompleted, ack.Status)

	job, _ := store.Get(ctx, "task-1")
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "https://cdn/out.png", *job.ResultURL)
	assert.NotNil(t, job.CompletedAt)

	bal, _ := store.GetBalance(ctx, "u1")
	assert.Equal(t, int64(10), bal, "callback never touches the ledger")
	assert.Empty(t, store.Entries("u1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallbacksTotal.WithLabelValues("completed")))
}

func TestOnCallback_FailureRecordsMessage(t *testing.T) {
	r, store, _ := setup(t, nil)
	ctx := context.Background()

	ack, err := r.OnCallback(ctx, Callback{TaskID: "task-1", State: "failed", FailMsg: "timeout"})
	require.NoError(t, err)
	assert.True(t, ack.Applied)

	job, _ := store.Get(ctx, "task-1")
	assert.Equal(t, jobs.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "timeout", *job.ErrorMessage)

	bal, _ := store.GetBalance(ctx, "u1")
	assert.Equal(t, int64(10), bal, "no refund")
}

func TestOnCallback_FailureFallbackMessage(t *testing.T) {
	r, store, _ := setup(t, nil)
	ctx := context.Background()

	_, err := r.OnCallback(ctx, Callback{TaskID: "task-1", State: "fail"})
	require.NoError(t, err)

	job, _ := store.Get(ctx, "task-1")
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, jobs.DefaultFailureMessage, *job.ErrorMessage)
}

func TestOnCallback_Idempotent(t *testing.T) {
	r, store, m := setup(t, nil)
	ctx := context.Background()
	cb := Callback{TaskID: "task-1", State: "success", Payload: json.RawMessage(`{"resultUrl":"https://cdn/1.png"}`)}

	first, err := r.OnCallback(ctx, cb)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	before, _ := store.Get(ctx, "task-1")

	second, err := r.OnCallback(ctx, cb)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, ReasonTerminal, second.Reason)

	late, err := r.OnCallback(ctx, Callback{TaskID: "task-1", State: "failed", FailMsg: "late"})
	require.NoError(t, err)
	assert.False(t, late.Applied)

	after, _ := store.Get(ctx, "task-1")
	assert.Equal(t, before, after)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallbacksTotal.WithLabelValues("duplicate")))
}

func TestOnCallback_UnknownJob(t *testing.T) {
	r, store, _ := setup(t, nil)

	ack, err := r.OnCallback(context.Background(), Callback{TaskID: "ghost", State: "success"})
	require.NoError(t, err)
	assert.False(t, ack.Applied)
	assert.Equal(t, ReasonUnknownJob, ack.Reason)
	assert.Equal(t, 1, store.JobCount())
	assert.Empty(t, store.Entries("u1"))
}

func TestOnCallback_InProgressIsNoop(t *testing.T) {
	r, store, _ := setup(t, nil)
	ctx := context.Background()

	ack, err := r.OnCallback(ctx, Callback{TaskID: "task-1", State: "generating"})
	require.NoError(t, err)
	assert.Equal(t, ReasonInProgress, ack.Reason)

	job, _ := store.Get(ctx, "task-1")
	assert.Equal(t, jobs.StatusPending, job.Status)
}

func TestOnCallback_MissingTaskID(t *testing.T) {
	r, _, _ := setup(t, nil)
	_, err := r.OnCallback(context.Background(), Callback{State: "success"})
	assert.Equal(t, 400, apperr.StatusCode(err))
}

func TestRefresh_PollsPendingJob(t *testing.T) {
	poller := &mockPoller{taskInfo: func(taskID string) (*provider.Task, error) {
		return &provider.Task{ID: taskID, State: "success", Result: json.RawMessage(`{"videoUrl":"https://cdn/v.mp4"}`)}, nil
	}}
	r, store, _ := setup(t, poller)
	ctx := context.Background()

	v, err := r.Refresh(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, v.Status)
	require.NotNil(t, v.ResultURL)
	assert.Equal(t, "https://cdn/v.mp4", *v.ResultURL)

	job, _ := store.Get(ctx, "task-1")
	assert.Equal(t, jobs.StatusCompleted, job.Status)

	_, err = r.Refresh(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, poller.calls, "terminal jobs are not polled")
}

func TestRefresh_InProgress(t *testing.T) {
	poller := &mockPoller{taskInfo: func(taskID string) (*provider.Task, error) {
		return &provider.Task{ID: taskID, State: "running"}, nil
	}}
	r, store, _ := setup(t, poller)

	v, err := r.Refresh(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, v.Status)

	job, _ := store.Get(context.Background(), "task-1")
	assert.Equal(t, jobs.StatusPending, job.Status, "processing is never stored")
}

func TestRefresh_PollErrorReturnsStoredState(t *testing.T) {
	poller := &mockPoller{taskInfo: func(taskID string) (*provider.Task, error) {
		return nil, errors.New("provider down")
	}}
	r, _, _ := setup(t, poller)

	v, err := r.Refresh(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, v.Status)
}

func TestRefresh_UnknownJob(t *testing.T) {
	poller := &mockPoller{}
	r, _, _ := setup(t, poller)

	_, err := r.Refresh(context.Background(), "ghost")
	assert.Equal(t, 404, apperr.StatusCode(err))
	assert.Zero(t, poller.calls)
}
