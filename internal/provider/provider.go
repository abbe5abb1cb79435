package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vnmchuo/gen-broker/internal/catalog"
)

// ErrDispatchFailed covers every way a task can fail to start: transport
// errors, timeouts, non-success answers, missing task ids, an open breaker.
var ErrDispatchFailed = errors.New("provider dispatch failed")

// StatusError is a non-success answer from the provider: an HTTP status or
// the business code in its response envelope. It matches ErrDispatchFailed.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: code %d: %s", ErrDispatchFailed, e.Code, e.Msg)
}

func (e *StatusError) Unwrap() error {
	return ErrDispatchFailed
}

// Rejected reports whether the provider refused this particular request,
// such as for bad input. Auth, billing and throttling codes are not
// rejections: they affect every caller.
func (e *StatusError) Rejected() bool {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// IsCallerError reports whether a dispatch error says nothing about the
// provider's health: the caller went away, or the provider rejected the
// request itself.
func IsCallerError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Rejected()
}

// Task is the provider's view of a task, as returned by a status poll.
type Task struct {
	ID      string
	State   string          // provider vocabulary, empty when unknown
	Result  json.RawMessage // object or JSON-encoded string
	FailMsg string
	Message string // provider note when the task is not (yet) known
}

type Dispatcher interface {
	// Dispatch starts a task and returns the provider's task id. callbackURL
	// is always sent so the provider can report completion.
	Dispatch(ctx context.Context, model *catalog.ModelDescriptor, params map[string]any, callbackURL string) (string, error)
	TaskInfo(ctx context.Context, taskID string) (*Task, error)
	Name() string
}
