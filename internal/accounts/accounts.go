// Package accounts manages the users that own API keys and subscription
// tiers. The same store answers tier lookups for the rate limiter.
package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/HanTheDev/reqnest-engine/internal/models"
)

type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserTier(ctx context.Context, email, tier string) error
	RotateAPIKey(ctx context.Context, email, newAPIKey string) error

	// Tier returns the tier bound to apiKey. An unknown key is
	// models.ErrNotFound.
	Tier(ctx context.Context, apiKey string) (string, error)
}

// ValidTier reports whether tier is one of the known plans.
func ValidTier(tier string) bool {
	switch tier {
	case models.TierFree, models.TierPremium, models.TierEnterprise:
		return true
	}
	return false
}

// GenerateAPIKey returns 32 random bytes, hex encoded.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
