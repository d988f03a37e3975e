package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/features/wallet/transport"
)

const (
	addrLower   = "0x52908400098527886e0f7030069857d2e4169ee7"
	addrChecked = "0x52908400098527886E0F7030069857D2E4169EE7"
	addrOther   = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

var validSig = "0x" + strings.Repeat("1b", 65)

type fakeTransport struct {
	kind models.Kind

	mu          sync.Mutex
	accounts    []string
	chain       int64
	connected   bool
	closed      bool
	enableErr   error
	enableGate  chan struct{}
	accountsErr error
	switchErr   error
	signature   string
	signErr     error
	balance     *big.Int
	balanceErr  error
	onBalance   func()
	closeErr    error

	signCalls     atomic.Int32
	accountsCalls atomic.Int32
	switchCalls   atomic.Int32
	closeCalls    atomic.Int32

	events    chan models.Event
	closeOnce sync.Once
}

func newFake(kind models.Kind, accounts ...string) *fakeTransport {
	return &fakeTransport{
		kind:      kind,
		accounts:  accounts,
		chain:     1,
		signature: validSig,
		balance:   big.NewInt(1_500_000_000_000_000_000),
		events:    make(chan models.Event, 4),
	}
}

func (f *fakeTransport) Kind() models.Kind { return f.kind }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && !f.closed
}

func (f *fakeTransport) Enable(ctx context.Context) ([]string, error) {
	if f.enableGate != nil {
		<-f.enableGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return nil, f.enableErr
	}
	f.connected = true
	return append([]string(nil), f.accounts...), nil
}

func (f *fakeTransport) Accounts(ctx context.Context) ([]string, error) {
	f.accountsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return append([]string(nil), f.accounts...), nil
}

func (f *fakeTransport) ChainID(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chain, nil
}

func (f *fakeTransport) SwitchChain(ctx context.Context, chainID int64) error {
	f.switchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.switchErr != nil {
		return f.switchErr
	}
	f.chain = chainID
	return nil
}

func (f *fakeTransport) Sign(ctx context.Context, message, address string) (string, error) {
	f.signCalls.Add(1)
	if f.signErr != nil {
		return "", f.signErr
	}
	return f.signature, nil
}

func (f *fakeTransport) Balance(ctx context.Context, address string) (*big.Int, error) {
	if f.onBalance != nil {
		f.onBalance()
	}
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeTransport) Events() <-chan models.Event { return f.events }

func (f *fakeTransport) Close(ctx context.Context) error {
	f.closeCalls.Add(1)
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return f.closeErr
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOpener hands out the queued transports in order.
type fakeOpener struct {
	mu     sync.Mutex
	queue  []transport.Transport
	err    error
	gate   chan struct{}
	opened atomic.Int32
}

func (o *fakeOpener) Open(ctx context.Context, kind models.Kind) (transport.Transport, error) {
	o.opened.Add(1)
	if o.gate != nil {
		<-o.gate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	if len(o.queue) == 0 {
		return nil, errors.New("no transport queued")
	}
	t := o.queue[0]
	o.queue = o.queue[1:]
	return t, nil
}

func testWalletConfig() config.Wallet {
	return config.Wallet{
		ProjectID:        "project",
		RelayURL:         "ws://relay.test",
		DefaultChainID:   1,
		ConnectTimeout:   2 * time.Second,
		InitTimeout:      time.Second,
		EnableTimeout:    time.Second,
		BalanceTimeout:   200 * time.Millisecond,
		SignatureTimeout: time.Second,
	}
}
