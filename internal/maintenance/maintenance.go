// Package maintenance holds the periodic batch jobs triggered by cron or by
// brokerctl.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/jobs"
)

const ResetPeriod = 7 * 24 * time.Hour

type Config struct {
	StandardWeeklyCredits int64
	FreeJobRetention      time.Duration
}

type Service struct {
	ledger billing.Ledger
	jobs   jobs.Store
	cfg    Config
	logger *zap.Logger
}

func NewService(ledger billing.Ledger, store jobs.Store, cfg Config, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, jobs: store, cfg: cfg, logger: logger}
}

// ResetWeeklyQuotas sets every due standard-tier balance to the weekly quota
// and schedules the next reset a week after now. Free users keep their
// lifetime credits; premium users are unlimited. Re-running within the same
// period touches nobody.
func (s *Service) ResetWeeklyQuotas(ctx context.Context, now time.Time) (int, error) {
	n, err := s.ledger.ResetTierCredits(ctx, billing.TierStandard, s.cfg.StandardWeeklyCredits, now, now.Add(ResetPeriod))
	if err != nil {
		return 0, fmt.Errorf("reset weekly quotas: %w", err)
	}
	s.logger.Info("weekly quotas reset", zap.Int("users", n), zap.Int64("credits", s.cfg.StandardWeeklyCredits))
	return n, nil
}

// CleanupOldJobs deletes jobs submitted under the free tier that are older
// than the retention period.
func (s *Service) CleanupOldJobs(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.cfg.FreeJobRetention)
	n, err := s.jobs.DeleteCreatedBefore(ctx, string(billing.TierFree), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	s.logger.Info("old jobs cleaned up", zap.Int64("jobs", n), zap.Time("cutoff", cutoff))
	return n, nil
}
