// Package repotest holds the behaviour every accounts repository must show.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlealert-miniapp/internal/features/accounts/models"
	"bundlealert-miniapp/internal/features/accounts/repository"
)

// Run exercises repo against the shared contract.
func Run(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetAccount(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.OwnerOf(ctx, "0xabc")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.SaveSession(ctx, &models.Session{Token: "tok", UserID: 42, ExpiresAt: time.Now().Add(time.Hour)}, time.Hour))
	s, err := repo.GetSession(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.UserID)

	acc := &models.Account{
		UserID:  42,
		Wallets: []models.VerifiedWallet{{Address: "0xABCDEF0123456789ABCDEF0123456789ABCD1234", Tier: "tier1", Balance: "0"}},
	}
	require.NoError(t, repo.SaveAccount(ctx, acc))
	got, err := repo.GetAccount(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got.Wallets, 1)
	assert.Equal(t, 0, got.Wallet("0xABCDEF0123456789ABCDEF0123456789ABCD1234"))
	assert.False(t, got.UpdatedAt.IsZero())

	owner, err := repo.OwnerOf(ctx, "0xabcdef0123456789abcdef0123456789abcd1234")
	require.NoError(t, err)
	assert.Equal(t, int64(42), owner, "owner lookup ignores case")

	require.NoError(t, repo.ReleaseAddress(ctx, acc.Wallets[0].Address))
	_, err = repo.OwnerOf(ctx, acc.Wallets[0].Address)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetChallenge(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, repo.SaveChallenge(ctx, &models.Challenge{UserID: 42, Nonce: "n1", Message: "m1"}, time.Minute))
	require.NoError(t, repo.SaveChallenge(ctx, &models.Challenge{UserID: 42, Nonce: "n2", Message: "m2"}, time.Minute))
	c, err := repo.GetChallenge(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "n2", c.Nonce, "a new challenge replaces the old one")
}
