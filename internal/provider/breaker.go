package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/catalog"
)

// Breaker stops calling a provider after repeated dispatch failures. Caller
// errors (see IsCallerError) do not count. While the circuit is open every
// Dispatch fails fast with ErrDispatchFailed. It never retries.
type Breaker struct {
	next Dispatcher
	cb   *gobreaker.CircuitBreaker
}

type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures before opening
	OpenFor     time.Duration // time spent open before a half-open trial call
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxFailures: 3, OpenFor: 30 * time.Second}
}

func NewBreaker(next Dispatcher, s BreakerSettings, logger *zap.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Interval:    5 * time.Second,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsCallerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() string {
	return b.next.Name()
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Dispatch(ctx context.Context, model *catalog.ModelDescriptor, params map[string]any, callbackURL string) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Dispatch(ctx, model, params, callbackURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %s: %v", ErrDispatchFailed, b.Name(), err)
		}
		return "", err
	}
	return result.(string), nil
}

// TaskInfo is not guarded; status polls must keep working while dispatch is
// tripped.
func (b *Breaker) TaskInfo(ctx context.Context, taskID string) (*Task, error) {
	return b.next.TaskInfo(ctx, taskID)
}
