package seeder

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/auth"
	"github.com/vnmchuo/gen-broker/internal/billing"
)

const (
	DevUserID      = "dev-user"
	DevUserCredits = 1000
)

// GenerateKey returns a random admin key with a recognizable prefix.
func GenerateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return "gbk_" + hex.EncodeToString(b), nil
}

// SeedAdminKey stores key (or a generated one when key is empty) and returns
// the plaintext, which is not recoverable afterwards.
func SeedAdminKey(ctx context.Context, store auth.Store, name, key string) (string, error) {
	if key == "" {
		var err error
		if key, err = GenerateKey(); err != nil {
			return "", err
		}
	}
	apiKey := &auth.APIKey{
		Name:    name,
		KeyHash: auth.HashKey(key),
		Active:  true,
	}
	if err := store.Create(ctx, apiKey); err != nil {
		return "", err
	}
	return key, nil
}

// SeedDevUser makes sure the local development user exists.
func SeedDevUser(ctx context.Context, ledger billing.Ledger, logger *zap.Logger) {
	if _, err := ledger.GetUser(ctx, DevUserID); err == nil {
		return
	}
	u, _, err := ledger.EnsureUser(ctx, DevUserID, "dev@localhost", DevUserCredits)
	if err != nil {
		logger.Warn("seeder: dev user not created", zap.Error(err))
		return
	}
	logger.Info("seeder: dev user created", zap.String("user_id", u.ID), zap.Int64("credits", u.Credits))
}
