package service

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/common/format"
	"bundlealert-miniapp/internal/common/validation"
	"bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/features/wallet/transport"
	"bundlealert-miniapp/internal/platform/storage"
	"bundlealert-miniapp/internal/utils/deadline"
)

const (
	accountsCheckTimeout = 10 * time.Second
	closeTimeout         = 5 * time.Second
)

// ConnectOption tunes a single Connect call.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	onConnected func(models.Connection)
}

// WithOnConnected runs fn as soon as the wallet reported an account,
// before the balance is fetched.
func WithOnConnected(fn func(models.Connection)) ConnectOption {
	return func(o *connectOptions) { o.onConnected = fn }
}

// ApplyOnConnected runs the WithOnConnected callback carried by opts, if any.
func ApplyOnConnected(opts []ConnectOption, conn models.Connection) {
	var o connectOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.onConnected != nil {
		o.onConnected(conn)
	}
}

// Manager owns the wallet connection lifecycle. At most one Connect runs at a time.
type Manager struct {
	cfg     config.Wallet
	session *Session
	opener  transport.Opener
	stores  storage.Stores
	log     zerolog.Logger

	connecting atomic.Bool

	mu      sync.Mutex
	status  models.Status
	conn    *models.Connection
	lastErr string
	subs    map[int]func(models.State)
	nextSub int
}

func NewManager(cfg config.Wallet, session *Session, opener transport.Opener, stores storage.Stores, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		session: session,
		opener:  opener,
		stores:  stores,
		log:     log.With().Str("component", "wallet_manager").Logger(),
		status:  models.StatusDisconnected,
		subs:    make(map[int]func(models.State)),
	}
}

// attempt is the outcome of one connect try, installed only if its epoch is still current.
type attempt struct {
	transport transport.Transport
	conn      models.Connection
}

// Connect opens a wallet of the given kind and returns the live connection.
func (m *Manager) Connect(ctx context.Context, kind models.Kind, opts ...ConnectOption) (*models.Connection, error) {
	if !m.connecting.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrCodePendingRequest, constants.MsgConnectInProgress)
	}
	defer m.connecting.Store(false)

	var o connectOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.log.Info().Str("kind", string(kind)).Msg("connecting wallet")
	m.setState(models.StatusConnecting, nil, "")

	// stale handles and relay records from earlier attempts
	old, epoch := m.session.clear()
	m.closeTransport(ctx, old)
	m.purgeRelay(ctx)

	res, err := deadline.Race(ctx, m.cfg.ConnectTimeout,
		func(ctx context.Context) (*attempt, error) {
			return m.connect(ctx, kind, o)
		},
		apperrors.NewTimeoutError("connect", m.cfg.ConnectTimeout, constants.MsgConnectTimeout),
		deadline.OnLate(func(late *attempt, _ error) {
			if late != nil {
				m.log.Warn().Str("kind", string(kind)).Msg("discarding wallet connection that finished after timeout")
				m.closeTransport(context.Background(), late.transport)
			}
		}),
	)
	if err != nil {
		err = transport.MapError(err, transport.OpConnect)
		if apperrors.HasCode(err, apperrors.ErrCodeTimeout) {
			m.session.clearIf(epoch)
		}
		if kind == models.KindRelay {
			m.purgeRelay(ctx)
		}
		m.log.Warn().Err(err).Str("kind", string(kind)).Msg("wallet connect failed")
		m.setState(models.StatusDisconnected, nil, apperrors.UserMessage(err))
		return nil, err
	}

	if !m.session.install(epoch, res.transport) {
		m.closeTransport(ctx, res.transport)
		m.log.Warn().Msg("wallet session was reset while connecting")
		return nil, apperrors.New(apperrors.ErrCodeSessionLost, constants.MsgConnectionLost)
	}

	conn := res.conn
	m.persistAddress(ctx, conn.Address)
	m.setState(models.StatusConnected, &conn, "")
	go m.watch(epoch, res.transport)

	m.log.Info().
		Str("address", format.FormatAddress(conn.Address)).
		Int64("chain_id", conn.ChainID).
		Str("balance", conn.BalanceEther).
		Msg("wallet connected")
	return conn.Clone(), nil
}

func (m *Manager) connect(ctx context.Context, kind models.Kind, o connectOptions) (*attempt, error) {
	t, err := m.open(ctx, kind)
	if err != nil {
		return nil, err
	}

	accounts, err := m.enable(ctx, t)
	if err != nil {
		m.closeTransport(ctx, t)
		return nil, err
	}
	if len(accounts) == 0 {
		m.closeTransport(ctx, t)
		return nil, apperrors.New(apperrors.ErrCodeWallet, constants.MsgNoAccounts)
	}

	address, err := validation.ChecksumAddress(accounts[0])
	if err != nil {
		m.closeTransport(ctx, t)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWallet, "Wallet returned an invalid address")
	}

	chainID, err := t.ChainID(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("chain id unavailable, assuming default")
		chainID = m.cfg.DefaultChainID
	}
	if !validation.IsValidChainID(chainID) {
		if err := t.SwitchChain(ctx, constants.ChainEthereum); err != nil {
			m.closeTransport(ctx, t)
			return nil, apperrors.Wrap(err, apperrors.ErrCodeUnsupported, constants.MsgInvalidChain).
				WithDetail("chain_id", chainID)
		}
		chainID = constants.ChainEthereum
	}

	conn := models.Connection{
		Address:     address,
		ChainID:     chainID,
		Balance:     new(big.Int),
		Provider:    kind,
		Connected:   true,
		ConnectedAt: time.Now(),
	}
	if o.onConnected != nil {
		o.onConnected(*conn.Clone())
	}

	conn.Balance = m.fetchBalance(ctx, t, address)
	conn.BalanceEther = format.FormatEther(conn.Balance)
	return &attempt{transport: t, conn: conn}, nil
}

// open initializes the transport; for relays it also resets a handle that
// claims a session without accounts.
func (m *Manager) open(ctx context.Context, kind models.Kind) (transport.Transport, error) {
	if kind != models.KindRelay {
		return m.opener.Open(ctx, kind)
	}

	openRelay := func() (transport.Transport, error) {
		return deadline.Race(ctx, m.cfg.InitTimeout,
			func(ctx context.Context) (transport.Transport, error) { return m.opener.Open(ctx, kind) },
			apperrors.NewTimeoutError("relay_init", m.cfg.InitTimeout, constants.MsgInitTimeout),
			deadline.OnLate(func(t transport.Transport, _ error) { m.closeTransport(context.Background(), t) }),
		)
	}

	t, err := openRelay()
	if err != nil {
		return nil, err
	}
	if t.Connected() {
		accounts, aerr := t.Accounts(ctx)
		if aerr != nil || len(accounts) == 0 {
			m.log.Warn().Msg("relay reports a session without accounts, resetting")
			m.closeTransport(ctx, t)
			m.purgeRelay(ctx)
			return openRelay()
		}
	}
	return t, nil
}

func (m *Manager) enable(ctx context.Context, t transport.Transport) ([]string, error) {
	if t.Kind() != models.KindRelay {
		return t.Enable(ctx)
	}
	return deadline.Race(ctx, m.cfg.EnableTimeout, t.Enable,
		apperrors.NewTimeoutError("relay_enable", m.cfg.EnableTimeout, constants.MsgEnableTimeout))
}

// fetchBalance never fails; an unreadable balance is zero.
func (m *Manager) fetchBalance(ctx context.Context, t transport.Transport, address string) *big.Int {
	bal, err := deadline.Race(ctx, m.cfg.BalanceTimeout,
		func(ctx context.Context) (*big.Int, error) { return t.Balance(ctx, address) },
		apperrors.NewTimeoutError("balance", m.cfg.BalanceTimeout, constants.MsgBalanceCheckFailed),
	)
	if err != nil || bal == nil {
		m.log.Warn().Err(err).Msg("balance retrieval failed, continuing")
		return new(big.Int)
	}
	return bal
}

// SignMessage asks the connected wallet for a personal signature of message.
func (m *Manager) SignMessage(ctx context.Context, message string) (string, error) {
	t, epoch := m.session.Transport()
	conn := m.connection()
	if t == nil || conn == nil {
		return "", apperrors.New(apperrors.ErrCodeNotConnected, constants.MsgNotConnected)
	}

	actx, cancel := context.WithTimeout(ctx, accountsCheckTimeout)
	accounts, err := t.Accounts(actx)
	cancel()
	if err != nil || len(accounts) == 0 {
		m.log.Warn().Err(err).Msg("wallet session lost before signing")
		m.teardown(epoch, "accounts unavailable before signing")
		return "", apperrors.New(apperrors.ErrCodeSessionLost, constants.MsgConnectionLost)
	}

	sig, err := deadline.Race(ctx, m.cfg.SignatureTimeout,
		func(ctx context.Context) (string, error) { return t.Sign(ctx, message, conn.Address) },
		apperrors.NewTimeoutError("sign", m.cfg.SignatureTimeout, constants.MsgSignatureTimeout),
	)
	if err != nil {
		err = transport.MapError(err, transport.OpSign)
		if apperrors.HasCode(err, apperrors.ErrCodeSessionLost) && !t.Connected() {
			m.teardown(epoch, "transport gone during signing")
		}
		m.log.Warn().Err(err).Msg("signature failed")
		return "", err
	}
	if !validation.IsValidSignature(sig) {
		return "", apperrors.New(apperrors.ErrCodeValidation, constants.MsgInvalidSignature).
			WithDetail("length", len(sig))
	}
	m.log.Info().Str("address", format.FormatAddress(conn.Address)).Msg("message signed")
	return sig, nil
}

// Disconnect tears the connection down. It always ends disconnected.
func (m *Manager) Disconnect(ctx context.Context) {
	old, _ := m.session.clear()
	m.closeTransport(ctx, old)
	if m.stores.Local != nil {
		if err := m.stores.Local.Remove(ctx, constants.StorageWalletAddress); err != nil {
			m.log.Warn().Err(err).Msg("clear stored wallet address")
		}
	}
	m.setState(models.StatusDisconnected, nil, "")
	m.log.Info().Msg("wallet disconnected")
}

// ForceCleanup drops the handle and purges relay records and app keys from
// local and session storage. It never fails.
func (m *Manager) ForceCleanup(ctx context.Context) {
	old, _ := m.session.clear()
	m.closeTransport(ctx, old)
	removed := storage.Purge(ctx, m.log, constants.AppStorageKeys, m.stores.All()...)
	m.setState(models.StatusDisconnected, nil, "")
	m.log.Info().Int("removed_keys", removed).Msg("forced wallet cleanup")
}

// CheckConnection rehydrates a still-live session. It never fails.
func (m *Manager) CheckConnection(ctx context.Context) (*models.Connection, bool) {
	t, epoch := m.session.Transport()
	if t == nil || !t.Connected() {
		return nil, false
	}

	cctx, cancel := context.WithTimeout(ctx, accountsCheckTimeout)
	defer cancel()
	accounts, err := t.Accounts(cctx)
	if err != nil || len(accounts) == 0 {
		return nil, false
	}
	address, err := validation.ChecksumAddress(accounts[0])
	if err != nil {
		return nil, false
	}
	chainID, err := t.ChainID(cctx)
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	if m.session.Epoch() != epoch {
		m.mu.Unlock()
		return nil, false
	}
	conn := m.conn.Clone()
	if conn == nil {
		conn = &models.Connection{Balance: new(big.Int), ConnectedAt: time.Now()}
	}
	conn.Address = address
	conn.ChainID = chainID
	conn.Provider = t.Kind()
	conn.Connected = true
	m.mu.Unlock()

	m.setState(models.StatusConnected, conn, "")
	m.log.Info().Str("address", format.FormatAddress(address)).Msg("wallet session restored")
	return conn.Clone(), true
}

// Balance refreshes the balance of the connected account.
func (m *Manager) Balance(ctx context.Context) (*big.Int, error) {
	t, _ := m.session.Transport()
	conn := m.connection()
	if t == nil || conn == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotConnected, constants.MsgNotConnected)
	}
	bal, err := deadline.Race(ctx, m.cfg.BalanceTimeout,
		func(ctx context.Context) (*big.Int, error) { return t.Balance(ctx, conn.Address) },
		apperrors.NewTimeoutError("balance", m.cfg.BalanceTimeout, constants.MsgBalanceCheckFailed),
	)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWallet, constants.MsgBalanceCheckFailed)
	}
	m.update(func(c *models.Connection) {
		c.Balance = new(big.Int).Set(bal)
		c.BalanceEther = format.FormatEther(bal)
	})
	return bal, nil
}

// SwitchToMainnet asks the wallet to move to Ethereum mainnet.
func (m *Manager) SwitchToMainnet(ctx context.Context) error {
	t, _ := m.session.Transport()
	if t == nil {
		return apperrors.New(apperrors.ErrCodeNotConnected, constants.MsgNotConnected)
	}
	if err := t.SwitchChain(ctx, constants.ChainEthereum); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnsupported, constants.MsgInvalidChain)
	}
	m.update(func(c *models.Connection) { c.ChainID = constants.ChainEthereum })
	return nil
}

// State returns a snapshot.
func (m *Manager) State() models.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Connecting reports whether a Connect call is in flight.
func (m *Manager) Connecting() bool {
	return m.connecting.Load()
}

// Subscribe registers fn for state changes and returns a function removing it.
// fn is called synchronously and must not call back into the manager.
func (m *Manager) Subscribe(fn func(models.State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) watch(epoch uint64, t transport.Transport) {
	for ev := range t.Events() {
		if m.session.Epoch() != epoch {
			return
		}
		m.handleEvent(epoch, ev)
	}
}

func (m *Manager) handleEvent(epoch uint64, ev models.Event) {
	m.log.Debug().Str("event", string(ev.Type)).Int("accounts", len(ev.Accounts)).Msg("wallet event")

	switch {
	case ev.Type.Ends():
		m.teardown(epoch, string(ev.Type))

	case ev.Type == models.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			m.teardown(epoch, "accounts cleared")
			return
		}
		address, err := validation.ChecksumAddress(ev.Accounts[0])
		if err != nil {
			m.log.Warn().Str("account", ev.Accounts[0]).Msg("ignoring invalid account from wallet")
			return
		}
		m.update(func(c *models.Connection) { c.Address = address })
		m.persistAddress(context.Background(), address)

	case ev.Type == models.EventChainChanged:
		m.update(func(c *models.Connection) { c.ChainID = ev.ChainID })
	}
}

// teardown ends the session of epoch, if it is still the current one.
func (m *Manager) teardown(epoch uint64, reason string) {
	old, ok := m.session.clearIf(epoch)
	if !ok {
		return
	}
	m.log.Info().Str("reason", reason).Msg("wallet session ended")
	m.closeTransport(context.Background(), old)
	m.setState(models.StatusDisconnected, nil, "")
}

func (m *Manager) closeTransport(ctx context.Context, t transport.Transport) {
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := t.Close(ctx); err != nil {
		m.log.Debug().Err(err).Msg("close wallet transport")
	}
}

func (m *Manager) purgeRelay(ctx context.Context) {
	storage.Purge(ctx, m.log, nil, m.stores.All()...)
}

func (m *Manager) persistAddress(ctx context.Context, address string) {
	if m.stores.Local == nil {
		return
	}
	if err := m.stores.Local.Set(ctx, constants.StorageWalletAddress, address); err != nil {
		m.log.Warn().Err(err).Msg("persist wallet address")
	}
}

func (m *Manager) connection() *models.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.Clone()
}

func (m *Manager) update(fn func(*models.Connection)) {
	m.mu.Lock()
	if m.conn == nil {
		m.mu.Unlock()
		return
	}
	fn(m.conn)
	m.notifyLocked()
}

func (m *Manager) setState(status models.Status, conn *models.Connection, errMsg string) {
	m.mu.Lock()
	m.status = status
	m.conn = conn.Clone()
	m.lastErr = errMsg
	m.notifyLocked()
}

// notifyLocked releases m.mu before calling subscribers.
func (m *Manager) notifyLocked() {
	st := m.snapshotLocked()
	subs := make([]func(models.State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (m *Manager) snapshotLocked() models.State {
	return models.State{Status: m.status, Connection: m.conn.Clone(), Error: m.lastErr}
}
