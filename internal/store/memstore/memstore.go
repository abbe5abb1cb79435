// Package memstore is an in-memory implementation of the ledger, job and
// admin key stores. It backs STORE_DRIVER=memory and the handler tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/gen-broker/internal/auth"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/jobs"
)

// Store holds every record behind one mutex, which serializes balance
// mutations the way the row lock does in postgres.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*billing.User
	jobs      map[string]*jobs.Job
	purchases map[string]*billing.Purchase
	entries   []billing.LedgerEntry
	keys      map[string]*auth.APIKey // by hash

	now func() time.Time
}

var (
	_ billing.Ledger = (*Store)(nil)
	_ jobs.Store     = (*Store)(nil)
	_ auth.Store     = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:     make(map[string]*billing.User),
		jobs:      make(map[string]*jobs.Job),
		purchases: make(map[string]*billing.Purchase),
		keys:      make(map[string]*auth.APIKey),
		now:       time.Now,
	}
}

// PutUser inserts or replaces a user as-is.
func (s *Store) PutUser(u billing.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = &u
}

// Entries returns the ledger entries written for userID, oldest first.
func (s *Store) Entries(userID string) []billing.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// JobCount returns the number of stored jobs.
func (s *Store) JobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) GetUser(_ context.Context, userID string) (*billing.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	return u.Credits, nil
}

func (s *Store) Debit(_ context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, billing.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	if u.Credits < amount {
		return 0, &billing.InsufficientFundsError{Required: amount, Available: u.Credits}
	}
	return s.applyLocked(u, -amount, billing.EntryDebit, reference), nil
}

func (s *Store) Credit(_ context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, billing.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	if !billing.CanCredit(u.Credits, amount) {
		return 0, billing.ErrBalanceOverflow
	}
	return s.applyLocked(u, amount, billing.EntryCredit, reference), nil
}

func (s *Store) SetBalance(_ context.Context, userID string, balance int64, reference string) (int64, error) {
	if balance < 0 {
		return 0, billing.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	return s.applyLocked(u, balance-u.Credits, billing.EntryReset, reference), nil
}

func (s *Store) EnsureUser(_ context.Context, userID, email string, initialCredits int64) (*billing.User, bool, error) {
	if initialCredits < 0 {
		return nil, false, billing.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		now := s.now()
		u = &billing.User{ID: userID, Email: email, Tier: billing.TierFree, CreatedAt: now, UpdatedAt: now}
		s.users[userID] = u
	}
	if initialCredits > 0 {
		s.applyLocked(u, initialCredits, billing.EntryCredit, "account setup")
	}
	cp := *u
	return &cp, !ok, nil
}

func (s *Store) ChargeJob(_ context.Context, job *jobs.Job, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, billing.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[job.UserID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	if u.Credits < amount {
		return 0, &billing.InsufficientFundsError{Required: amount, Available: u.Credits}
	}
	if _, dup := s.jobs[job.ID]; dup {
		return 0, fmt.Errorf("failed to insert job: duplicate id %q", job.ID)
	}

	job.Status = jobs.StatusPending
	job.CreditsCharged = amount
	stored := *job
	s.jobs[job.ID] = &stored
	return s.applyLocked(u, -amount, billing.EntryDebit, job.ID), nil
}

func (s *Store) ApplyPurchase(_ context.Context, p *billing.Purchase) (int64, error) {
	if p.Credits <= 0 {
		return 0, billing.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[p.UserID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	if _, seen := s.purchases[p.SessionID]; seen {
		return 0, billing.ErrDuplicatePurchase
	}
	if !billing.CanCredit(u.Credits, p.Credits) {
		return 0, billing.ErrBalanceOverflow
	}
	stored := *p
	stored.CreatedAt = s.now()
	s.purchases[p.SessionID] = &stored
	return s.applyLocked(u, p.Credits, billing.EntryPurchase, p.SessionID), nil
}

func (s *Store) ResetTierCredits(_ context.Context, tier billing.Tier, credits int64, now, next time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.users {
		if u.Tier != tier {
			continue
		}
		if u.CreditsResetAt != nil && u.CreditsResetAt.After(now) {
			continue
		}
		s.applyLocked(u, credits-u.Credits, billing.EntryReset, "weekly reset")
		at := next
		u.CreditsResetAt = &at
		n++
	}
	return n, nil
}

func (s *Store) applyLocked(u *billing.User, delta int64, kind billing.EntryKind, reference string) int64 {
	now := s.now()
	u.Credits += delta
	u.UpdatedAt = now
	s.entries = append(s.entries, billing.LedgerEntry{
		ID:           uuid.New().String(),
		UserID:       u.ID,
		Kind:         kind,
		Amount:       delta,
		BalanceAfter: u.Credits,
		Reference:    reference,
		CreatedAt:    now,
	})
	return u.Credits
}

func (s *Store) Get(_ context.Context, id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) Finish(_ context.Context, id string, status jobs.Status, resultURL, errMsg *string, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finish: %q is not a terminal status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, jobs.ErrJobNotFound
	}
	if j.Status != jobs.StatusPending {
		return false, nil
	}
	j.Status = status
	j.ResultURL = resultURL
	j.ErrorMessage = errMsg
	j.CompletedAt = &at
	return true, nil
}

func (s *Store) ListByUser(_ context.Context, userID string, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteCreatedBefore(_ context.Context, tier string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if j.UserTier == tier && j.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// PutJob inserts a job without touching any balance.
func (s *Store) PutJob(j jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &j
}

func (s *Store) GetByKey(_ context.Context, key string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[auth.HashKey(key)]
	if !ok || !k.Active {
		return nil, auth.ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Store) Create(_ context.Context, apiKey *auth.APIKey) error {
	if apiKey.KeyHash == "" {
		return fmt.Errorf("key_hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = s.now()
	cp := *apiKey
	s.keys[apiKey.KeyHash] = &cp
	return nil
}

func (s *Store) Revoke(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == keyID {
			k.Active = false
			return nil
		}
	}
	return auth.ErrKeyNotFound
}
