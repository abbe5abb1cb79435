package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing" // provider-side only, never stored
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persistent record of one paid generation. ID is the provider's
// task id, which is also what the callback carries.
type Job struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	ModelID        string         `json:"modelId"`
	ModelType      string         `json:"modelType"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	CreditsCharged int64          `json:"creditsCharged"`
	UserTier       string         `json:"userTier"`
	Status         Status         `json:"status"`
	ResultURL      *string        `json:"resultUrl,omitempty"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (j *Job) MarshalBinary() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (j *Job) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, j)
}

// Store persists job records. Inserts happen through billing.Ledger.ChargeJob
// so that a job never exists without its debit.
type Store interface {
	Get(ctx context.Context, id string) (*Job, error)
	// Finish moves a pending job to status. It returns false without writing
	// when the job is already terminal, and ErrJobNotFound for unknown ids.
	Finish(ctx context.Context, id string, status Status, resultURL, errMsg *string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error)
	// DeleteCreatedBefore removes jobs submitted under tier before cutoff.
	DeleteCreatedBefore(ctx context.Context, tier string, cutoff time.Time) (int64, error)
}
