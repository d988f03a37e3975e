package repository

import (
	"context"
	"errors"
	"time"

	"bundlealert-miniapp/internal/features/accounts/models"
)

// ErrNotFound is returned for unknown tokens and accounts.
var ErrNotFound = errors.New("not found")

type Repository interface {
	SaveSession(ctx context.Context, s *models.Session, ttl time.Duration) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	// OwnerOf returns the user id that verified address.
	OwnerOf(ctx context.Context, address string) (int64, error)
	ReleaseAddress(ctx context.Context, address string) error
	// SaveChallenge replaces the pending challenge of the user.
	SaveChallenge(ctx context.Context, c *models.Challenge, ttl time.Duration) error
	GetChallenge(ctx context.Context, userID int64) (*models.Challenge, error)
}
