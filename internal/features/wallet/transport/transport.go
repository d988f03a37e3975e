// Package transport holds the two ways of reaching a wallet: a relay session
// to a remote wallet and a locally held signer.
package transport

import (
	"context"
	"math/big"

	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/platform/storage"
)

// Transport is an open handle to a wallet.
type Transport interface {
	Kind() models.Kind
	// Connected reports whether the handle believes it has a live session.
	Connected() bool

	// Enable asks the wallet for account access (eth_requestAccounts).
	Enable(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (int64, error)
	SwitchChain(ctx context.Context, chainID int64) error
	// Sign returns a 65-byte personal signature of message by address, hex encoded.
	Sign(ctx context.Context, message, address string) (string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)

	// Events is closed once the transport is closed.
	Events() <-chan models.Event
	Close(ctx context.Context) error
}

// Opener opens transports by kind.
type Opener interface {
	Open(ctx context.Context, kind models.Kind) (Transport, error)
}

// Factory opens transports from configuration.
type Factory struct {
	cfg   config.Wallet
	store storage.Store
	log   zerolog.Logger
}

// NewFactory returns a factory persisting relay sessions in store.
func NewFactory(cfg config.Wallet, store storage.Store, log zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, store: store, log: log}
}

func (f *Factory) Open(ctx context.Context, kind models.Kind) (Transport, error) {
	switch kind {
	case models.KindRelay:
		if f.cfg.ProjectID == "" {
			return nil, apperrors.NewConfigError("WALLETCONNECT_PROJECT_ID", constants.MsgProjectIDMissing)
		}
		if f.cfg.RelayURL == "" {
			return nil, apperrors.NewConfigError("RELAY_URL", constants.MsgRelayURLMissing)
		}
		return DialRelay(ctx, RelayOptions{
			URL:          f.cfg.RelayURL,
			ProjectID:    f.cfg.ProjectID,
			ChainID:      f.cfg.DefaultChainID,
			PollInterval: f.cfg.PollInterval,
		}, f.store, f.log)

	case models.KindInjected:
		signer, err := LoadSigner(f.cfg)
		if err != nil {
			return nil, err
		}
		return NewInjected(signer, InjectedOptions{
			RPCURL:  f.cfg.RPCURL,
			ChainID: f.cfg.DefaultChainID,
		}, f.log), nil
	}
	return nil, apperrors.NewValidationError("provider", "Unsupported provider: "+string(kind))
}
