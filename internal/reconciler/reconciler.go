// Package reconciler applies provider outcomes to job records. It never
// touches balances.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/jobs"
	"github.com/vnmchuo/gen-broker/internal/metrics"
	"github.com/vnmchuo/gen-broker/internal/provider"
)

// Callback is one completion notice from the provider.
type Callback struct {
	TaskID  string
	State   string
	Payload json.RawMessage
	FailMsg string
}

// Ack is returned for every well-formed callback, including ones that change
// nothing.
type Ack struct {
	Applied bool
	Reason  string
	Status  jobs.Status
}

const (
	ReasonApplied    = "applied"
	ReasonUnknownJob = "unknown job"
	ReasonTerminal   = "already terminal"
	ReasonInProgress = "in progress"
)

// StatusView is what a status query reports.
type StatusView struct {
	JobID     string
	Status    jobs.Status
	ResultURL *string
	Message   string
}

type TaskPoller interface {
	TaskInfo(ctx context.Context, taskID string) (*provider.Task, error)
}

type Reconciler struct {
	jobs    jobs.Store
	poller  TaskPoller
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func New(store jobs.Store, poller TaskPoller, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		jobs:    store,
		poller:  poller,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("gen-broker/reconciler"),
		now:     time.Now,
	}
}

// OnCallback is safe under at-least-once delivery: only the first terminal
// outcome for a pending job is written.
func (r *Reconciler) OnCallback(ctx context.Context, cb Callback) (Ack, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.OnCallback")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", cb.TaskID), attribute.String("state", cb.State))

	if strings.TrimSpace(cb.TaskID) == "" {
		return Ack{}, apperr.Validation("Missing taskId")
	}

	ack, err := r.apply(ctx, cb.TaskID, jobs.ParseOutcome(cb.State, cb.Payload, cb.FailMsg))
	if err != nil {
		r.metrics.CallbacksTotal.WithLabelValues("error").Inc()
		return Ack{}, err
	}
	r.metrics.CallbacksTotal.WithLabelValues(metricLabel(ack)).Inc()
	return ack, nil
}

func (r *Reconciler) apply(ctx context.Context, taskID string, outcome jobs.Outcome) (Ack, error) {
	job, err := r.jobs.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			r.logger.Info("callback for unknown job", zap.String("task_id", taskID))
			return Ack{Reason: ReasonUnknownJob}, nil
		}
		return Ack{}, apperr.Internal("failed to load job", err)
	}
	if job.Status.IsTerminal() {
		return Ack{Reason: ReasonTerminal, Status: job.Status}, nil
	}

	var (
		status    jobs.Status
		resultURL *string
		errMsg    *string
	)
	switch o := outcome.(type) {
	case jobs.Succeeded:
		status = jobs.StatusCompleted
		if o.ResultURL != "" {
			url := o.ResultURL
			resultURL = &url
		} else {
			r.logger.Warn("successful job without result reference", zap.String("task_id", taskID))
		}
	case jobs.Failed:
		status = jobs.StatusFailed
		msg := o.Message
		errMsg = &msg
	case jobs.InProgress:
		return Ack{Reason: ReasonInProgress, Status: o.Status()}, nil
	}

	applied, err := r.jobs.Finish(ctx, taskID, status, resultURL, errMsg, r.now().UTC())
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return Ack{Reason: ReasonUnknownJob}, nil
		}
		return Ack{}, apperr.Internal("failed to update job", err)
	}
	if !applied {
		// Lost a race with a concurrent delivery.
		return Ack{Reason: ReasonTerminal, Status: status}, nil
	}

	r.logger.Info("job finished",
		zap.String("task_id", taskID),
		zap.String("user_id", job.UserID),
		zap.String("status", string(status)),
	)
	return Ack{Applied: true, Reason: ReasonApplied, Status: status}, nil
}

// Refresh reports a job's status. A pending job is polled at the provider and
// a terminal answer is applied exactly as a callback would be. Poll failures
// are logged and the stored state is returned.
func (r *Reconciler) Refresh(ctx context.Context, jobID string) (*StatusView, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", jobID))

	if strings.TrimSpace(jobID) == "" {
		return nil, apperr.Validation("Missing taskId")
	}
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, apperr.NotFound("Job not found", err)
		}
		return nil, apperr.Internal("failed to load job", err)
	}
	if job.Status.IsTerminal() {
		return viewOf(job), nil
	}

	task, err := r.poller.TaskInfo(ctx, jobID)
	if err != nil {
		r.logger.Warn("status poll failed", zap.String("task_id", jobID), zap.Error(err))
		return viewOf(job), nil
	}

	outcome := jobs.ParseOutcome(task.State, task.Result, task.FailMsg)
	if p, ok := outcome.(jobs.InProgress); ok {
		v := viewOf(job)
		v.Status = p.Status()
		v.Message = task.Message
		return v, nil
	}

	ack, err := r.apply(ctx, jobID, outcome)
	if err != nil {
		return nil, err
	}
	if ack.Applied {
		r.metrics.CallbacksTotal.WithLabelValues("polled").Inc()
	}

	job, err = r.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal("failed to reload job", err)
	}
	return viewOf(job), nil
}

func viewOf(j *jobs.Job) *StatusView {
	v := &StatusView{JobID: j.ID, Status: j.Status, ResultURL: j.ResultURL}
	if j.ErrorMessage != nil {
		v.Message = *j.ErrorMessage
	}
	return v
}

func metricLabel(a Ack) string {
	switch {
	case a.Applied && a.Status == jobs.StatusCompleted:
		return "completed"
	case a.Applied:
		return "failed"
	case a.Reason == ReasonUnknownJob:
		return "unknown"
	case a.Reason == ReasonInProgress:
		return "in_progress"
	default:
		return "duplicate"
	}
}
