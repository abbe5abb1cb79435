// Package app wires the storage backends shared by the server and brokerctl.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/config"
	"github.com/vnmchuo/gen-broker/internal/auth"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/database"
	"github.com/vnmchuo/gen-broker/internal/jobs"
	"github.com/vnmchuo/gen-broker/internal/seeder"
	"github.com/vnmchuo/gen-broker/internal/store/memstore"
)

// Stores are the systems of record selected by STORE_DRIVER.
type Stores struct {
	Ledger billing.Ledger
	Jobs   jobs.Store
	Keys   auth.Store

	// Pool is nil for the memory driver.
	Pool *pgxpool.Pool
}

func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores connects the configured driver. With postgres the schema is
// applied when migrate is true. The memory driver starts with the dev user.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		mem := memstore.New()
		seeder.SeedDevUser(ctx, mem, logger)
		logger.Warn("using in-memory store, data is lost on restart")
		return &Stores{Ledger: mem, Jobs: mem, Keys: mem}, nil
	case "postgres":
		pool, err := database.Connect(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &Stores{
			Ledger: billing.NewPostgresStore(pool),
			Jobs:   jobs.NewPostgresStore(pool),
			Keys:   auth.NewPostgresStore(pool),
			Pool:   pool,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
