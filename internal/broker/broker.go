// Package broker turns a paid generation request into a dispatched provider
// task and a debited, recorded job.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/catalog"
	"github.com/vnmchuo/gen-broker/internal/jobs"
	"github.com/vnmchuo/gen-broker/internal/metrics"
	"github.com/vnmchuo/gen-broker/internal/provider"
)

type Request struct {
	UserID      string
	Route       Route
	CallbackURL string
}

type Receipt struct {
	JobID          string
	CreditsCharged int64
	Balance        int64
	Model          *catalog.ModelDescriptor
}

type Broker struct {
	catalog    *catalog.Catalog
	ledger     billing.Ledger
	dispatcher provider.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func New(cat *catalog.Catalog, ledger billing.Ledger, dispatcher provider.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Broker {
	return &Broker{
		catalog:    cat,
		ledger:     ledger,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("gen-broker/broker"),
		now:        time.Now,
	}
}

// Submit prices the request, checks the balance, dispatches to the provider
// and only then debits and records the job in one ledger transaction. A
// failure before dispatch leaves no trace; a failure after dispatch leaves
// an unbilled provider task, which is logged.
func (b *Broker) Submit(ctx context.Context, req Request) (*Receipt, error) {
	ctx, span := b.tracer.Start(ctx, "broker.Submit")
	defer span.End()

	receipt, err := b.submit(ctx, span, req)
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
		if e, ok := apperr.As(err); ok {
			outcome = string(e.Kind)
		}
		span.SetStatus(codes.Error, err.Error())
	}
	b.metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	return receipt, err
}

func (b *Broker) submit(ctx context.Context, span trace.Span, req Request) (*Receipt, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	if req.Route == nil {
		return nil, apperr.Validation("modelId is required")
	}
	modelID, params, err := req.Route.resolve()
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	span.SetAttributes(attribute.String("user_id", req.UserID), attribute.String("model_id", modelID))

	model, err := b.catalog.Lookup(modelID)
	if err != nil {
		return nil, apperr.NotFound(fmt.Sprintf("Model not found: %s", modelID), err)
	}

	params = model.WithDefaults(params)
	if missing := model.MissingRequired(params); len(missing) > 0 {
		return nil, apperr.Validation(fmt.Sprintf("Missing required parameters: %s", strings.Join(missing, ", ")))
	}
	cost, err := model.Cost(params)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	user, err := b.ledger.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found", err)
		}
		return nil, apperr.Internal("failed to read balance", err)
	}
	if user.Credits < cost {
		return nil, apperr.InsufficientCredits(cost, user.Credits)
	}

	start := time.Now()
	taskID, err := b.dispatcher.Dispatch(ctx, model, params, req.CallbackURL)
	b.metrics.ObserveDispatch(model.ID, time.Since(start))
	if err != nil {
		b.logger.Warn("dispatch failed",
			zap.String("user_id", req.UserID),
			zap.String("model_id", model.ID),
			zap.Error(err),
		)
		return nil, apperr.DispatchFailed(err)
	}
	span.SetAttributes(attribute.String("task_id", taskID))

	job := &jobs.Job{
		ID:         taskID,
		UserID:     user.ID,
		ModelID:    model.ID,
		ModelType:  model.Type,
		Parameters: params,
		UserTier:   string(user.Tier),
		CreatedAt:  b.now().UTC(),
	}
	balance, err := b.ledger.ChargeJob(ctx, job, cost)
	if err != nil {
		var insufficient *billing.InsufficientFundsError
		if errors.As(err, &insufficient) {
			// A concurrent submission spent the balance between the pre-check
			// and the locked read.
			b.logger.Warn("unbilled provider task after concurrent spend",
				zap.String("task_id", taskID),
				zap.String("user_id", user.ID),
				zap.Int64("required", insufficient.Required),
				zap.Int64("available", insufficient.Available),
			)
			return nil, apperr.InsufficientCredits(insufficient.Required, insufficient.Available)
		}
		b.logger.Error("job dispatched but not recorded, reconcile manually",
			zap.String("task_id", taskID),
			zap.String("user_id", user.ID),
			zap.String("model_id", model.ID),
			zap.Int64("credits", cost),
			zap.Error(err),
		)
		return nil, apperr.Persistence("job dispatched but could not be recorded", err)
	}
	b.metrics.CreditsTotal.WithLabelValues("debit").Add(float64(cost))

	b.logger.Info("job submitted",
		zap.String("task_id", taskID),
		zap.String("user_id", user.ID),
		zap.String("model_id", model.ID),
		zap.Int64("credits", cost),
		zap.Int64("balance", balance),
	)
	return &Receipt{JobID: taskID, CreditsCharged: cost, Balance: balance, Model: model}, nil
}
