package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vnmchuo/gen-broker/internal/jobs"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicatePurchase = errors.New("purchase already applied")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrBalanceOverflow   = errors.New("balance would overflow")
)

// CanCredit reports whether amount can be added to balance without
// overflowing int64.
func CanCredit(balance, amount int64) bool {
	return balance <= math.MaxInt64-amount
}

// InsufficientFundsError reports the balance seen inside the transaction that
// refused the debit. It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// UnlimitedCredits is the balance given to premium users.
const UnlimitedCredits int64 = 999999

// TierQuota is the balance a tier is (re)set to.
func TierQuota(t Tier) int64 {
	switch t {
	case TierStandard:
		return 50
	case TierPremium:
		return UnlimitedCredits
	default:
		return 5
	}
}

func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierStandard, TierPremium:
		return Tier(s), true
	}
	return "", false
}

type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email,omitempty"`
	Credits        int64      `json:"credits"`
	Tier           Tier       `json:"tier"`
	CreditsResetAt *time.Time `json:"creditsResetAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type EntryKind string

const (
	EntryDebit    EntryKind = "debit"
	EntryCredit   EntryKind = "credit"
	EntryReset    EntryKind = "reset"
	EntryPurchase EntryKind = "purchase"
)

// LedgerEntry is the audit record written next to every balance mutation.
type LedgerEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"` // signed
	BalanceAfter int64     `json:"balanceAfter"`
	Reference    string    `json:"reference,omitempty"` // job id, session id, admin note
	CreatedAt    time.Time `json:"createdAt"`
}

// Purchase is a completed credit-pack payment. SessionID is the payment
// processor's checkout session and is unique.
type Purchase struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	PackID          string    `json:"packId"`
	Credits         int64     `json:"credits"`
	AmountCents     int64     `json:"amountCents"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Ledger is the system of record for user balances. Every method that changes
// a balance runs in one transaction scoped to the user's row.
type Ledger interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetBalance(ctx context.Context, userID string) (int64, error)

	// Debit fails with ErrUserNotFound, or with *InsufficientFundsError when
	// amount exceeds the balance read under lock.
	Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	// Credit is unconditional; no upper bound is enforced.
	Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	// SetBalance overwrites a balance (admin resets).
	SetBalance(ctx context.Context, userID string, balance int64, reference string) (int64, error)

	// EnsureUser creates the user with initialCredits, or tops up an existing
	// user by the same amount. created reports which happened.
	EnsureUser(ctx context.Context, userID, email string, initialCredits int64) (user *User, created bool, err error)

	// ChargeJob debits amount and inserts job in the same transaction. Nothing
	// is written when either step fails.
	ChargeJob(ctx context.Context, job *jobs.Job, amount int64) (int64, error)

	// ApplyPurchase credits the pack and records the purchase in one
	// transaction. A session id seen before yields ErrDuplicatePurchase and
	// leaves the balance untouched.
	ApplyPurchase(ctx context.Context, p *Purchase) (int64, error)

	// ResetTierCredits sets every user of tier whose reset time is due to
	// credits and moves their next reset to next. Returns the users touched.
	ResetTierCredits(ctx context.Context, tier Tier, credits int64, now, next time.Time) (int, error)
}
