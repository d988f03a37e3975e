package transport

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/features/wallet/models"
)

// BalanceReader reads native balances; *ethclient.Client satisfies it.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type InjectedOptions struct {
	RPCURL  string
	ChainID int64
	// Balances overrides the node dialed from RPCURL.
	Balances BalanceReader
}

// Injected is a wallet held in-process. It signs with a local key and reads
// balances from an Ethereum node.
type Injected struct {
	signer Signer
	opts   InjectedOptions
	log    zerolog.Logger

	mu       sync.Mutex
	chainID  int64
	enabled  bool
	closed   bool
	balances BalanceReader
	node     *ethclient.Client
	events   chan models.Event
}

func NewInjected(signer Signer, opts InjectedOptions, log zerolog.Logger) *Injected {
	chain := opts.ChainID
	if chain == 0 {
		chain = constants.ChainEthereum
	}
	return &Injected{
		signer:   signer,
		opts:     opts,
		log:      log.With().Str("component", "injected_wallet").Logger(),
		chainID:  chain,
		balances: opts.Balances,
		events:   make(chan models.Event),
	}
}

func (w *Injected) Kind() models.Kind { return models.KindInjected }

func (w *Injected) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled && !w.closed
}

func (w *Injected) Enable(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, &RPCError{Code: CodeDisconnected, Message: "wallet disconnected"}
	}
	w.enabled = true
	return []string{w.signer.Address().Hex()}, nil
}

func (w *Injected) Accounts(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, &RPCError{Code: CodeDisconnected, Message: "wallet disconnected"}
	}
	if !w.enabled {
		return []string{}, nil
	}
	return []string{w.signer.Address().Hex()}, nil
}

func (w *Injected) ChainID(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

// SwitchChain accepts the chains the app knows about.
func (w *Injected) SwitchChain(ctx context.Context, chainID int64) error {
	if _, ok := constants.Chains[chainID]; !ok {
		return &RPCError{Code: CodeChainUnknown, Message: "Unrecognized chain ID"}
	}
	w.mu.Lock()
	w.chainID = chainID
	w.mu.Unlock()
	return nil
}

func (w *Injected) Sign(ctx context.Context, message, address string) (string, error) {
	if !common.IsHexAddress(address) || common.HexToAddress(address) != w.signer.Address() {
		return "", &RPCError{Code: CodeUnauthorized, Message: "Requested account is not authorized"}
	}
	sig, err := w.signer.SignText([]byte(message))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (w *Injected) Balance(ctx context.Context, address string) (*big.Int, error) {
	reader, err := w.balanceReader(ctx)
	if err != nil {
		return nil, err
	}
	return reader.BalanceAt(ctx, common.HexToAddress(address), nil)
}

func (w *Injected) balanceReader(ctx context.Context) (BalanceReader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances != nil {
		return w.balances, nil
	}
	if w.opts.RPCURL == "" {
		return nil, apperrors.NewConfigError("ETH_RPC_URL", constants.MsgBalanceCheckFailed)
	}
	node, err := ethclient.DialContext(ctx, w.opts.RPCURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNetwork, constants.MsgBalanceCheckFailed)
	}
	w.node = node
	w.balances = node
	return node, nil
}

// Events never carries anything; a local key does not change under us.
func (w *Injected) Events() <-chan models.Event { return w.events }

func (w *Injected) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.enabled = false
	close(w.events)
	if w.node != nil {
		w.node.Close()
	}
	w.log.Debug().Msg("injected wallet closed")
	return nil
}
