package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bundlealert-miniapp/internal/features/accounts/models"
	"bundlealert-miniapp/internal/features/accounts/repository"
)

const (
	keyPrefixSession = "session:"
	keyPrefixAccount = "account:"
	keyPrefixOwner   = "wallet_owner:"
	keyPrefixPending = "challenge:"
)

type accountRepository struct {
	client *redis.Client
	ns     string
}

// NewRepository stores sessions and accounts under "<namespace>:".
func NewRepository(client *redis.Client, namespace string) repository.Repository {
	return &accountRepository{client: client, ns: namespace + ":"}
}

func (r *accountRepository) key(prefix, id string) string {
	return r.ns + prefix + id
}

func (r *accountRepository) SaveSession(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return r.client.Set(ctx, r.key(keyPrefixSession, s.Token), data, ttl).Err()
}

func (r *accountRepository) GetSession(ctx context.Context, token string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.key(keyPrefixSession, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *accountRepository) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	data, err := r.client.Get(ctx, r.key(keyPrefixAccount, strconv.FormatInt(userID, 10))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var a models.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &a, nil
}

func (r *accountRepository) SaveAccount(ctx context.Context, a *models.Account) error {
	a.UpdatedAt = time.Now()
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(keyPrefixAccount, strconv.FormatInt(a.UserID, 10)), data, 0)
	for _, w := range a.Wallets {
		pipe.Set(ctx, r.key(keyPrefixOwner, strings.ToLower(w.Address)), a.UserID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (r *accountRepository) OwnerOf(ctx context.Context, address string) (int64, error) {
	id, err := r.client.Get(ctx, r.key(keyPrefixOwner, strings.ToLower(address))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get wallet owner: %w", err)
	}
	return id, nil
}

func (r *accountRepository) ReleaseAddress(ctx context.Context, address string) error {
	return r.client.Del(ctx, r.key(keyPrefixOwner, strings.ToLower(address))).Err()
}

func (r *accountRepository) SaveChallenge(ctx context.Context, c *models.Challenge, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}
	return r.client.Set(ctx, r.key(keyPrefixPending, strconv.FormatInt(c.UserID, 10)), data, ttl).Err()
}

func (r *accountRepository) GetChallenge(ctx context.Context, userID int64) (*models.Challenge, error) {
	data, err := r.client.Get(ctx, r.key(keyPrefixPending, strconv.FormatInt(userID, 10))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	var c models.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &c, nil
}
