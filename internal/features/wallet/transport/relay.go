package transport

import (
	"context"
	"encoding/json"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/platform/storage"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultSessionTTL   = 7 * 24 * time.Hour
	// consecutive failed polls before the session counts as gone
	maxPollFailures = 3
	pollCallTimeout = 5 * time.Second
	closeTimeout    = 2 * time.Second
)

// Keys of the relay records in local storage.
var (
	SessionKey = storage.RelayKey("session")
	PairingKey = storage.RelayKey("pairing")
)

type RelayOptions struct {
	URL          string
	ProjectID    string
	ChainID      int64
	PollInterval time.Duration
	SessionTTL   time.Duration
}

// sessionRecord is persisted under SessionKey while a relay session is live.
type sessionRecord struct {
	Topic      string   `json:"topic"`
	Accounts   []string `json:"accounts"`
	ChainID    int64    `json:"chainId"`
	Controller string   `json:"controller"`
	Expiry     int64    `json:"expiry"` // unix ms
}

func (s *sessionRecord) expired(now time.Time) bool {
	return s.Expiry <= now.UnixMilli()
}

type pairingRecord struct {
	Topic     string `json:"topic"`
	Relay     string `json:"relay"`
	CreatedAt int64  `json:"createdAt"`
}

// sessionEvent is the payload of the wallet_subscribe("session") stream.
type sessionEvent struct {
	Type     string         `json:"type"`
	Accounts []string       `json:"accounts,omitempty"`
	ChainID  hexutil.Uint64 `json:"chainId,omitempty"`
}

// Relay reaches a remote wallet over a JSON-RPC relay. Wallet events come
// from a wallet_subscribe stream when the relay supports notifications and
// from polling otherwise.
type Relay struct {
	client *rpc.Client
	eth    *ethclient.Client
	store  storage.Store
	opts   RelayOptions
	log    zerolog.Logger
	topic  string

	mu      sync.Mutex
	session *sessionRecord
	closed  bool

	events    chan models.Event
	done      chan struct{}
	watchOnce sync.Once
}

// DialRelay connects to the relay at opts.URL.
func DialRelay(ctx context.Context, opts RelayOptions, store storage.Store, log zerolog.Logger) (*Relay, error) {
	client, err := rpc.DialOptions(ctx, opts.URL, rpc.WithHeader("X-Project-Id", opts.ProjectID))
	if err != nil {
		return nil, err
	}
	return NewRelay(ctx, client, opts, store, log), nil
}

// NewRelay wraps a dialed client and restores a persisted session if one is still valid.
func NewRelay(ctx context.Context, client *rpc.Client, opts RelayOptions, store storage.Store, log zerolog.Logger) *Relay {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.ChainID == 0 {
		opts.ChainID = constants.ChainEthereum
	}

	r := &Relay{
		client: client,
		eth:    ethclient.NewClient(client),
		store:  store,
		opts:   opts,
		log:    log.With().Str("component", "relay_wallet").Logger(),
		topic:  uuid.NewString(),
		events: make(chan models.Event, 8),
		done:   make(chan struct{}),
	}

	r.writeRecord(ctx, PairingKey, pairingRecord{Topic: r.topic, Relay: opts.URL, CreatedAt: time.Now().UnixMilli()})
	if rec := r.restore(ctx); rec != nil {
		r.session = rec
		r.topic = rec.Topic
		r.log.Debug().Str("topic", rec.Topic).Msg("restored relay session")
		r.startWatch()
	}
	return r
}

func (r *Relay) restore(ctx context.Context) *sessionRecord {
	if r.store == nil {
		return nil
	}
	raw, ok, err := r.store.Get(ctx, SessionKey)
	if err != nil || !ok {
		return nil
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Topic == "" || rec.expired(time.Now()) {
		r.log.Debug().Msg("dropping stale relay session record")
		_ = r.store.Remove(ctx, SessionKey)
		return nil
	}
	return &rec
}

func (r *Relay) writeRecord(ctx context.Context, key string, v any) {
	if r.store == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, key, string(raw)); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("persist relay record")
	}
}

func (r *Relay) Kind() models.Kind { return models.KindRelay }

func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.session != nil && !r.session.expired(time.Now())
}

func (r *Relay) Enable(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := r.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}

	chain, err := r.ChainID(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("eth_chainId after enable")
		chain = r.opts.ChainID
	}

	rec := &sessionRecord{
		Topic:      r.topic,
		Accounts:   accounts,
		ChainID:    chain,
		Controller: r.opts.URL,
		Expiry:     time.Now().Add(r.opts.SessionTTL).UnixMilli(),
	}
	r.mu.Lock()
	r.session = rec
	r.mu.Unlock()
	r.writeRecord(ctx, SessionKey, rec)

	if len(accounts) > 0 {
		r.startWatch()
	}
	return accounts, nil
}

func (r *Relay) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := r.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *Relay) ChainID(ctx context.Context) (int64, error) {
	var id hexutil.Big
	if err := r.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return id.ToInt().Int64(), nil
}

func (r *Relay) SwitchChain(ctx context.Context, chainID int64) error {
	params := map[string]string{"chainId": hexutil.EncodeUint64(uint64(chainID))}
	if err := r.client.CallContext(ctx, nil, "wallet_switchEthereumChain", params); err != nil {
		return err
	}
	r.mu.Lock()
	if r.session != nil {
		r.session.ChainID = chainID
	}
	r.mu.Unlock()
	return nil
}

// Sign sends a raw personal_sign with the hex-encoded UTF-8 message and the
// lowercased address, the form relay wallets accept most reliably.
func (r *Relay) Sign(ctx context.Context, message, address string) (string, error) {
	var sig string
	err := r.client.CallContext(ctx, &sig, "personal_sign",
		hexutil.Encode([]byte(message)), strings.ToLower(address))
	if err != nil {
		return "", err
	}
	return sig, nil
}

func (r *Relay) Balance(ctx context.Context, address string) (*big.Int, error) {
	return r.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
}

func (r *Relay) Events() <-chan models.Event { return r.events }

// Close ends the session, tells the wallet when possible and drops the relay records.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.session = nil
	close(r.done)
	r.mu.Unlock()

	// the watcher closes events; without one nobody else will
	r.watchOnce.Do(func() { close(r.events) })

	cctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := r.client.CallContext(cctx, nil, "wallet_disconnect", r.topic); err != nil {
		r.log.Debug().Err(err).Msg("wallet_disconnect")
	}
	if r.store != nil {
		for _, key := range []string{SessionKey, PairingKey} {
			if err := r.store.Remove(ctx, key); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("remove relay record")
			}
		}
	}
	r.client.Close()
	return nil
}

func (r *Relay) startWatch() {
	r.watchOnce.Do(func() { go r.watch() })
}

func (r *Relay) watch() {
	defer close(r.events)

	ch := make(chan sessionEvent, 8)
	sctx, cancel := context.WithTimeout(context.Background(), pollCallTimeout)
	sub, err := r.client.Subscribe(sctx, "wallet", ch, "session")
	cancel()
	if err != nil {
		r.log.Debug().Err(err).Msg("session notifications unavailable, polling")
		r.poll()
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-r.done:
			return
		case err := <-sub.Err():
			if err != nil && !r.isClosed() {
				r.log.Warn().Err(err).Msg("session subscription dropped")
				r.emit(models.Event{Type: models.EventDisconnect})
			}
			return
		case ev := <-ch:
			r.emit(models.Event{Type: models.EventType(ev.Type), Accounts: ev.Accounts, ChainID: int64(ev.ChainID)})
			if models.EventType(ev.Type).Ends() {
				return
			}
		}
	}
}

func (r *Relay) poll() {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.mu.Lock()
	var lastAccounts []string
	lastChain := r.opts.ChainID
	if r.session != nil {
		lastAccounts = slices.Clone(r.session.Accounts)
		lastChain = r.session.ChainID
	}
	r.mu.Unlock()

	failures := 0
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		expired := r.session != nil && r.session.expired(time.Now())
		r.mu.Unlock()
		if expired {
			r.emit(models.Event{Type: models.EventSessionExpire})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), pollCallTimeout)
		accounts, aerr := r.Accounts(ctx)
		chain, cerr := r.ChainID(ctx)
		cancel()
		if aerr != nil || cerr != nil {
			if r.isClosed() {
				return
			}
			failures++
			r.log.Debug().AnErr("accounts", aerr).AnErr("chain", cerr).Int("failures", failures).Msg("relay poll failed")
			if failures >= maxPollFailures {
				r.emit(models.Event{Type: models.EventDisconnect})
				return
			}
			continue
		}
		failures = 0

		if !slices.Equal(accounts, lastAccounts) {
			lastAccounts = accounts
			r.emit(models.Event{Type: models.EventAccountsChanged, Accounts: accounts})
		}
		if chain != lastChain {
			lastChain = chain
			r.emit(models.Event{Type: models.EventChainChanged, ChainID: chain})
		}
	}
}

func (r *Relay) emit(ev models.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
