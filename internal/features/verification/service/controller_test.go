package service

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	userstatus "bundlealert-miniapp/internal/features/userstatus/service"
	"bundlealert-miniapp/internal/features/verification/models"
	walletmodels "bundlealert-miniapp/internal/features/wallet/models"
	walletsvc "bundlealert-miniapp/internal/features/wallet/service"
	"bundlealert-miniapp/internal/platform/botapi"
	"bundlealert-miniapp/internal/platform/storage"
	"bundlealert-miniapp/internal/platform/telegram"
)

const testAddress = "0xABCDEF0123456789ABCDEF0123456789ABCD1234"

var testSignature = "0x" + strings.Repeat("1b", 65)

type fakeWallet struct {
	mu sync.Mutex

	connectErr error
	// gate, when set, blocks Connect until closed
	gate    chan struct{}
	signErr error
	sig     string
	restore *walletmodels.Connection

	connects, signs, disconnects, cleanups int
}

func (w *fakeWallet) Connect(ctx context.Context, kind walletmodels.Kind, opts ...walletsvc.ConnectOption) (*walletmodels.Connection, error) {
	w.mu.Lock()
	w.connects++
	gate, err := w.gate, w.connectErr
	w.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	conn := walletmodels.Connection{Address: testAddress, ChainID: 1, Balance: new(big.Int), Provider: kind, Connected: true}
	walletsvc.ApplyOnConnected(opts, conn)
	conn.Balance = big.NewInt(1_500_000_000_000_000_000)
	conn.BalanceEther = "1.5000"
	return &conn, nil
}

func (w *fakeWallet) SignMessage(ctx context.Context, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signs++
	if w.signErr != nil {
		return "", w.signErr
	}
	if w.sig != "" {
		return w.sig, nil
	}
	return testSignature, nil
}

func (w *fakeWallet) Disconnect(ctx context.Context) {
	w.mu.Lock()
	w.disconnects++
	w.mu.Unlock()
}

func (w *fakeWallet) ForceCleanup(ctx context.Context) {
	w.mu.Lock()
	w.cleanups++
	w.mu.Unlock()
}

func (w *fakeWallet) CheckConnection(ctx context.Context) (*walletmodels.Connection, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.restore == nil {
		return nil, false
	}
	return w.restore.Clone(), true
}

type fakeHost struct {
	mu      sync.Mutex
	button  *telegram.TerminalMainButton
	haptics []string
	closed  int
}

func newFakeHost() *fakeHost {
	return &fakeHost{button: &telegram.TerminalMainButton{}}
}

func (h *fakeHost) WaitReady(ctx context.Context) error { return ctx.Err() }
func (h *fakeHost) MainButton() telegram.MainButton  { return h.button }

func (h *fakeHost) Haptic(kind string) {
	h.mu.Lock()
	h.haptics = append(h.haptics, kind)
	h.mu.Unlock()
}

func (h *fakeHost) Close() {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *fakeHost) hapticLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.haptics...)
}

type fakeBackend struct {
	mu          sync.Mutex
	verifyBody  map[string]string
	verifyCode  int
	statusCalls int
	disconnects []botapi.DisconnectRequest
	tier        string
	// statusGate, when set, blocks status requests until closed
	statusGate  chan struct{}
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(constants.PathAuthTelegram, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(botapi.AuthResponse{Success: true, Token: "tok"})
	})
	mux.HandleFunc(constants.PathWalletVerify, func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		b.mu.Lock()
		b.verifyBody = body
		code := b.verifyCode
		b.tier = constants.Tier2
		b.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(botapi.ErrorResponse{Error: "bad signature"})
			return
		}
		_ = json.NewEncoder(w).Encode(botapi.VerificationResult{Success: true, Tier: constants.Tier2, WalletsVerified: 1})
	})
	mux.HandleFunc(constants.PathUserStatus, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.statusCalls++
		tier, gate := b.tier, b.statusGate
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if tier == "" {
			tier = constants.TierFree
		}
		_ = json.NewEncoder(w).Encode(botapi.UserStatus{CurrentState: botapi.CurrentState{CurrentTier: tier}})
	})
	mux.HandleFunc(constants.PathWalletDisconnect, func(w http.ResponseWriter, r *http.Request) {
		var req botapi.DisconnectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		b.mu.Lock()
		b.disconnects = append(b.disconnects, req)
		b.tier = constants.TierFree
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(botapi.DisconnectResponse{Success: true, Disconnected: 1, NewTier: constants.TierFree})
	})
	return mux
}

func (b *fakeBackend) statusCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls
}

type staticIdentity string

func (s staticIdentity) InitData() string { return string(s) }

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []models.Toast
}

func (n *recordingNotifier) Notify(t models.Toast) {
	n.mu.Lock()
	n.toasts = append(n.toasts, t)
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []models.ToastKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.ToastKind, len(n.toasts))
	for i, t := range n.toasts {
		out[i] = t.Kind
	}
	return out
}

type harness struct {
	ctrl    *Controller
	wallet  *fakeWallet
	host    *fakeHost
	backend *fakeBackend
	toasts  *recordingNotifier
	states  func() []models.State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)

	api := botapi.New(config.API{BaseURL: srv.URL, Timeout: 2 * time.Second}, storage.NewMemoryStore(), staticIdentity("query_id=1"), zerolog.Nop())
	tracker := userstatus.NewTracker(api, zerolog.Nop())
	h := &harness{wallet: &fakeWallet{}, host: newFakeHost(), backend: backend, toasts: &recordingNotifier{}}
	h.ctrl = NewController(h.wallet, api, tracker, h.host, h.toasts, config.Flow{StatusRefreshDelay: 100 * time.Millisecond}, zerolog.Nop())

	var mu sync.Mutex
	var states []models.State
	h.ctrl.Subscribe(func(s models.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	})
	h.states = func() []models.State {
		mu.Lock()
		defer mu.Unlock()
		return append([]models.State(nil), states...)
	}

	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.Wait()
	return h
}

func TestStartShowsWelcomeAndLoadsStatus(t *testing.T) {
	h := newHarness(t)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, models.StateWelcome, snap.State)
	require.NotNil(t, snap.Status)
	assert.Equal(t, constants.TierFree, snap.Status.CurrentState.CurrentTier)
	assert.Equal(t, 1, h.backend.statusCount())
}

func TestRelayVerificationScenario(t *testing.T) {
	h := newHarness(t)

	result, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
	require.NoError(t, err)
	assert.Equal(t, constants.Tier2, result.Tier)

	h.backend.mu.Lock()
	body := h.backend.verifyBody
	h.backend.mu.Unlock()
	assert.Equal(t, map[string]string{
		"wallet_address": testAddress,
		"signature":      testSignature,
		"message":        constants.VerificationMessage,
	}, body)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, models.StateSuccess, snap.State)
	assert.Same(t, result, snap.Result)
	assert.Equal(t, "1.5000", snap.Connection.BalanceEther)

	visible, text := h.host.button.State()
	assert.True(t, visible)
	assert.Equal(t, constants.MainButtonCloseText, text)

	h.ctrl.Wait()
	snap = h.ctrl.Snapshot()
	assert.Equal(t, models.StateStatus, snap.State)
	assert.Equal(t, constants.Tier2, snap.Status.CurrentState.CurrentTier)

	assert.Equal(t, []models.State{
		models.StateWelcome,
		models.StateConnecting,
		models.StateVerifying,
		models.StateSuccess,
		models.StateStatus,
	}, h.states())
	assert.Contains(t, h.toasts.kinds(), models.ToastSuccess)
	assert.Contains(t, h.host.hapticLog(), telegram.HapticSuccess)
}

func TestConnectTimeoutShowsError(t *testing.T) {
	h := newHarness(t)
	h.wallet.connectErr = apperrors.NewTimeoutError("connect", 45*time.Second, constants.MsgConnectTimeout)

	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
	require.Error(t, err)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, models.StateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, apperrors.ErrCodeTimeout, snap.Error.Code)
	assert.Equal(t, constants.MsgConnectTimeout, snap.Error.Message)
	assert.False(t, snap.Error.SessionLost())
	assert.Equal(t, []models.ToastKind{models.ToastError}, h.toasts.kinds())
	assert.Equal(t, []string{telegram.HapticLight, telegram.HapticError}, h.host.hapticLog())

	h.ctrl.Retry()
	assert.Equal(t, models.StateWelcome, h.ctrl.Snapshot().State)
	assert.Nil(t, h.ctrl.Snapshot().Error)
}

func TestSignFailureCarriesMappedMessage(t *testing.T) {
	h := newHarness(t)
	h.wallet.signErr = apperrors.New(apperrors.ErrCodeSessionLost, constants.MsgConnectionLost)

	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindInjected)
	require.Error(t, err)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, models.StateError, snap.State)
	assert.True(t, snap.Error.SessionLost())
	assert.Equal(t, constants.MsgConnectionLost, snap.Error.Message)
}

func TestBackendRejectsSignature(t *testing.T) {
	h := newHarness(t)
	h.backend.mu.Lock()
	h.backend.verifyCode = http.StatusBadRequest
	h.backend.mu.Unlock()

	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindInjected)
	require.Error(t, err)
	assert.Equal(t, models.StateError, h.ctrl.Snapshot().State)
}

func TestConnectRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.wallet.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().State == models.StateConnecting
	}, time.Second, time.Millisecond)

	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
	assert.Equal(t, apperrors.ErrCodePendingRequest, apperrors.CodeOf(err))

	close(h.wallet.gate)
	require.NoError(t, <-done)
	h.wallet.mu.Lock()
	assert.Equal(t, 1, h.wallet.connects)
	h.wallet.mu.Unlock()
}

func TestStartFreshDiscardsInFlightFlow(t *testing.T) {
	h := newHarness(t)
	h.wallet.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().State == models.StateConnecting
	}, time.Second, time.Millisecond)

	h.ctrl.StartFresh(context.Background())
	assert.Equal(t, models.StateWelcome, h.ctrl.Snapshot().State)

	close(h.wallet.gate)
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, models.StateWelcome, h.ctrl.Snapshot().State, "late result is ignored")
	h.wallet.mu.Lock()
	assert.Equal(t, 1, h.wallet.cleanups)
	assert.Zero(t, h.wallet.signs)
	h.wallet.mu.Unlock()
}

func TestDisconnectFromStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
	require.NoError(t, err)
	h.ctrl.Wait()
	require.Equal(t, models.StateStatus, h.ctrl.Snapshot().State)
	before := h.backend.statusCount()

	require.NoError(t, h.ctrl.Disconnect(context.Background()))

	h.wallet.mu.Lock()
	assert.Equal(t, 1, h.wallet.disconnects)
	h.wallet.mu.Unlock()
	h.backend.mu.Lock()
	require.Len(t, h.backend.disconnects, 1)
	assert.Nil(t, h.backend.disconnects[0].WalletAddress)
	assert.True(t, h.backend.disconnects[0].DisconnectAll)
	h.backend.mu.Unlock()
	assert.Equal(t, before+1, h.backend.statusCount())

	snap := h.ctrl.Snapshot()
	assert.Equal(t, models.StateWelcome, snap.State)
	assert.Equal(t, constants.TierFree, snap.Status.CurrentState.CurrentTier)
	visible, _ := h.host.button.State()
	assert.False(t, visible)
}

func TestRestoreSession(t *testing.T) {
	h := newHarness(t)
	h.wallet.restore = &walletmodels.Connection{Address: testAddress, ChainID: 1, Connected: true}

	assert.True(t, h.ctrl.RestoreSession(context.Background()))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, models.StateWelcome, snap.State)
	assert.Equal(t, testAddress, snap.Connection.Address)

	h.wallet.restore = nil
	assert.False(t, h.ctrl.RestoreSession(context.Background()))
	h.wallet.mu.Lock()
	assert.Equal(t, 1, h.wallet.cleanups)
	h.wallet.mu.Unlock()
	assert.Nil(t, h.ctrl.Snapshot().Connection)
}

func TestViewStatusAndBack(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ViewStatus(context.Background()))
	assert.Equal(t, models.StateStatus, h.ctrl.Snapshot().State)
	assert.Equal(t, 2, h.backend.statusCount())

	h.ctrl.StartVerification()
	assert.Equal(t, models.StateWelcome, h.ctrl.Snapshot().State)
}

func TestReturnToBot(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindInjected)
	require.NoError(t, err)

	assert.True(t, h.host.button.Press())
	h.host.mu.Lock()
	assert.Equal(t, 1, h.host.closed)
	h.host.mu.Unlock()
	h.ctrl.Wait()
}

func TestConnectRefusedWhileStatusLoads(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.statusGate = gate
	h.backend.mu.Unlock()

	viewed := make(chan error, 1)
	go func() { viewed <- h.ctrl.ViewStatus(context.Background()) }()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Busy }, time.Second, time.Millisecond)

	_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
	assert.Equal(t, apperrors.ErrCodePendingRequest, apperrors.CodeOf(err))
	assert.Equal(t, models.StateWelcome, h.ctrl.Snapshot().State)

	close(gate)
	require.NoError(t, <-viewed)
	assert.Equal(t, models.StateStatus, h.ctrl.Snapshot().State)
	h.wallet.mu.Lock()
	assert.Zero(t, h.wallet.connects)
	h.wallet.mu.Unlock()
}

func TestLateStatusDoesNotReplaceNewFlow(t *testing.T) {
	h := newHarness(t)
	statusGate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.statusGate = statusGate
	h.backend.mu.Unlock()

	viewed := make(chan error, 1)
	go func() { viewed <- h.ctrl.ViewStatus(context.Background()) }()
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Busy }, time.Second, time.Millisecond)

	h.ctrl.StartFresh(context.Background())
	require.False(t, h.ctrl.Snapshot().Busy)

	h.wallet.gate = make(chan struct{})
	connected := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
		connected <- err
	}()
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().State == models.StateConnecting
	}, time.Second, time.Millisecond)

	close(statusGate)
	assert.ErrorIs(t, <-viewed, ErrSuperseded)
	assert.Equal(t, models.StateConnecting, h.ctrl.Snapshot().State)

	close(h.wallet.gate)
	require.NoError(t, <-connected)
	assert.Equal(t, models.StateSuccess, h.ctrl.Snapshot().State)
	h.wallet.mu.Lock()
	assert.Equal(t, 1, h.wallet.signs)
	h.wallet.mu.Unlock()
	h.ctrl.Wait()
}

func TestControllerUsableDuringConnect(t *testing.T) {
	h := newHarness(t)
	h.wallet.gate = make(chan struct{})

	connected := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Connect(context.Background(), walletmodels.KindRelay)
		connected <- err
	}()
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().State == models.StateConnecting
	}, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		unsubscribe := h.ctrl.Subscribe(func(models.Snapshot) {})
		unsubscribe()
		_ = h.ctrl.ViewStatus(context.Background())
		_ = h.ctrl.Snapshot()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller blocked while a connect was in flight")
	}

	err := h.ctrl.ViewStatus(context.Background())
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	close(h.wallet.gate)
	require.NoError(t, <-connected)
	h.ctrl.Wait()
	assert.Equal(t, models.StateStatus, h.ctrl.Snapshot().State)
}
