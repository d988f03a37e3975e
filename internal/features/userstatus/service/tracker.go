package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/platform/botapi"
)

// StatusFetcher loads the comprehensive status; *botapi.Client satisfies it.
type StatusFetcher interface {
	GetComprehensiveStatus(ctx context.Context) (*botapi.UserStatus, error)
}

// Snapshot is what the status views render.
type Snapshot struct {
	Status    *botapi.UserStatus
	Loading   bool
	Err       error
	FetchedAt time.Time
}

// Tracker keeps the latest user status. Each successful fetch replaces it wholesale;
// a failed fetch keeps the previous status and records the error.
type Tracker struct {
	api StatusFetcher
	log zerolog.Logger

	mu   sync.Mutex
	snap Snapshot
}

func NewTracker(api StatusFetcher, log zerolog.Logger) *Tracker {
	return &Tracker{api: api, log: log.With().Str("component", "user_status").Logger()}
}

// Refresh fetches the status from the backend.
func (t *Tracker) Refresh(ctx context.Context) (*botapi.UserStatus, error) {
	t.mu.Lock()
	t.snap.Loading = true
	t.mu.Unlock()

	status, err := t.api.GetComprehensiveStatus(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Loading = false
	if err != nil {
		if !apperrors.IsAppError(err) {
			err = apperrors.Wrap(err, apperrors.ErrCodeInternal, constants.MsgStatusFetchFailed)
		}
		t.snap.Err = err
		t.log.Warn().Err(err).Msg("failed to fetch user status")
		return nil, err
	}

	t.snap.Status = status
	t.snap.Err = nil
	t.snap.FetchedAt = time.Now()
	t.log.Debug().
		Str("tier", status.CurrentState.CurrentTier).
		Int("wallets", len(status.Wallets)).
		Msg("user status refreshed")
	return status, nil
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Current returns the last fetched status, or nil.
func (t *Tracker) Current() *botapi.UserStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Status
}

// Tier returns the current tier id, free when unknown.
func (t *Tracker) Tier() string {
	st := t.Current()
	if st == nil || st.CurrentState.CurrentTier == "" {
		return constants.TierFree
	}
	return st.CurrentState.CurrentTier
}

// PrimaryWallet returns the first verified wallet address.
func (t *Tracker) PrimaryWallet() (string, bool) {
	st := t.Current()
	if st == nil || len(st.Wallets) == 0 {
		return "", false
	}
	return st.Wallets[0].Address, true
}
