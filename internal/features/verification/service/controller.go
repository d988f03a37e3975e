package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/features/verification/models"
	walletmodels "bundlealert-miniapp/internal/features/wallet/models"
	walletsvc "bundlealert-miniapp/internal/features/wallet/service"
	"bundlealert-miniapp/internal/platform/botapi"
	"bundlealert-miniapp/internal/platform/telegram"
)

// ErrSuperseded is returned when a flow finished after the user moved on.
var ErrSuperseded = errors.New("verification flow superseded")

// Wallet is the part of the wallet manager the flow drives.
type Wallet interface {
	Connect(ctx context.Context, kind walletmodels.Kind, opts ...walletsvc.ConnectOption) (*walletmodels.Connection, error)
	SignMessage(ctx context.Context, message string) (string, error)
	Disconnect(ctx context.Context)
	ForceCleanup(ctx context.Context)
	CheckConnection(ctx context.Context) (*walletmodels.Connection, bool)
}

// Backend is the part of the bot API the flow calls.
type Backend interface {
	Token(ctx context.Context) string
	AuthenticateTelegram(ctx context.Context) (string, error)
	VerifyWallet(ctx context.Context, address, signature, message string) (*botapi.VerificationResult, error)
	DisconnectWallet(ctx context.Context, address *string, all bool) (*botapi.DisconnectResponse, error)
}

// StatusSource refreshes and holds the user status.
type StatusSource interface {
	Refresh(ctx context.Context) (*botapi.UserStatus, error)
	Current() *botapi.UserStatus
}

// Host is the Telegram capability surface.
type Host interface {
	WaitReady(ctx context.Context) error
	Haptic(kind string)
	MainButton() telegram.MainButton
	Close()
}

// Notifier receives toasts.
type Notifier interface {
	Notify(t models.Toast)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(models.Toast)

func (f NotifierFunc) Notify(t models.Toast) { f(t) }

// Controller is the verification screen state machine.
type Controller struct {
	wallet Wallet
	api    Backend
	status StatusSource
	host   Host
	notify Notifier
	cfg    config.Flow
	log    zerolog.Logger

	mu      sync.Mutex
	snap    models.Snapshot
	epoch   uint64
	subs    map[int]func(models.Snapshot)
	nextSub int

	bg sync.WaitGroup
}

func NewController(wallet Wallet, api Backend, status StatusSource, host Host, notify Notifier, cfg config.Flow, log zerolog.Logger) *Controller {
	if notify == nil {
		notify = NotifierFunc(func(models.Toast) {})
	}
	return &Controller{
		wallet: wallet,
		api:    api,
		status: status,
		host:   host,
		notify: notify,
		cfg:    cfg,
		log:    log.With().Str("component", "verification_flow").Logger(),
		snap:   models.Snapshot{State: models.StateLoading},
		subs:   make(map[int]func(models.Snapshot)),
	}
}

// Snapshot returns the current flow state.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe registers fn for every state change and returns the unsubscribe func.
func (c *Controller) Subscribe(fn func(models.Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Wait blocks until background work started by the controller has finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Start waits for the host, shows the welcome screen and loads the status in the background.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.host.WaitReady(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if c.snap.State == models.StateLoading {
		c.snap.State = models.StateWelcome
	}
	epoch := c.epoch
	c.notifyLocked()
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		bctx := context.WithoutCancel(ctx)
		if c.api.Token(bctx) == "" {
			if _, err := c.api.AuthenticateTelegram(bctx); err != nil {
				c.log.Warn().Err(err).Msg("telegram authentication failed")
				return
			}
		}
		c.refreshStatus(bctx, epoch)
	}()
	return nil
}

// Connect runs the connect, sign and verify sequence with the given wallet kind.
func (c *Controller) Connect(ctx context.Context, kind walletmodels.Kind) (*botapi.VerificationResult, error) {
	c.mu.Lock()
	switch c.snap.State {
	case models.StateConnecting, models.StateVerifying:
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodePendingRequest, constants.MsgConnectInProgress)
	case models.StateWelcome:
		if c.snap.Busy {
			c.mu.Unlock()
			return nil, apperrors.New(apperrors.ErrCodePendingRequest, constants.MsgConnectInProgress)
		}
	default:
		state := c.snap.State
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeValidation, "cannot connect from "+string(state))
	}
	// A new flow owns the screen; anything still in flight from before is stale.
	c.epoch++
	epoch := c.epoch
	c.snap.State = models.StateConnecting
	c.snap.Kind = kind
	c.snap.Connection = nil
	c.snap.Result = nil
	c.snap.Error = nil
	c.notifyLocked()
	c.mu.Unlock()
	c.host.Haptic(telegram.HapticLight)

	log := c.log.With().Str("kind", string(kind)).Uint64("epoch", epoch).Logger()
	log.Info().Msg("starting wallet verification")

	conn, err := c.wallet.Connect(ctx, kind, walletsvc.WithOnConnected(func(conn walletmodels.Connection) {
		c.onConnected(epoch, conn)
	}))
	if err != nil {
		return nil, c.fail(epoch, err)
	}
	if !c.enterVerifying(epoch, conn) {
		log.Info().Msg("discarding connection from superseded flow")
		return nil, ErrSuperseded
	}

	sig, err := c.wallet.SignMessage(ctx, constants.VerificationMessage)
	if err != nil {
		return nil, c.fail(epoch, err)
	}
	if c.stale(epoch) {
		log.Info().Msg("discarding signature from superseded flow")
		return nil, ErrSuperseded
	}

	result, err := c.api.VerifyWallet(ctx, conn.Address, sig, constants.VerificationMessage)
	if err != nil {
		return nil, c.fail(epoch, err)
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = constants.MsgSignatureFailed
		}
		return nil, c.fail(epoch, apperrors.New(apperrors.ErrCodeServer, msg))
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		log.Info().Str("tier", result.Tier).Msg("discarding verification result from superseded flow")
		return nil, ErrSuperseded
	}
	c.snap.State = models.StateSuccess
	c.snap.Result = result
	c.notifyLocked()
	c.mu.Unlock()

	log.Info().Str("tier", result.Tier).Int("wallets", result.WalletsVerified).Msg("wallet verified")
	c.host.Haptic(telegram.HapticSuccess)
	c.notify.Notify(models.NewToast(models.ToastSuccess, constants.MsgVerificationComplete))
	c.showCloseButton()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.refreshAfterSuccess(context.WithoutCancel(ctx), epoch)
	}()
	return result, nil
}

func (c *Controller) onConnected(epoch uint64, conn walletmodels.Connection) {
	if c.enterVerifying(epoch, &conn) {
		c.host.Haptic(telegram.HapticSuccess)
		c.notify.Notify(models.NewToast(models.ToastSuccess, constants.MsgWalletConnected))
	}
}

// enterVerifying moves connecting to verifying. It returns false for a stale epoch.
func (c *Controller) enterVerifying(epoch uint64, conn *walletmodels.Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	if c.snap.State == models.StateVerifying {
		if conn != nil {
			c.snap.Connection = conn.Clone()
			c.notifyLocked()
		}
		return true
	}
	if c.snap.State != models.StateConnecting {
		return false
	}
	c.snap.State = models.StateVerifying
	if conn != nil {
		c.snap.Connection = conn.Clone()
	}
	c.notifyLocked()
	return true
}

func (c *Controller) refreshAfterSuccess(ctx context.Context, epoch uint64) {
	if d := c.cfg.StatusRefreshDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	if c.stale(epoch) {
		return
	}
	status, ok := c.refreshStatus(ctx, epoch)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.snap.State != models.StateSuccess {
		return
	}
	c.snap.State = models.StateStatus
	c.snap.Status = status
	c.notifyLocked()
}

// refreshStatus fetches the status and stores it when epoch is still current.
func (c *Controller) refreshStatus(ctx context.Context, epoch uint64) (*botapi.UserStatus, bool) {
	status, err := c.status.Refresh(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("status refresh failed")
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil, false
	}
	c.snap.Status = status
	c.notifyLocked()
	return status, true
}

func (c *Controller) fail(epoch uint64, err error) error {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.log.Info().Err(err).Msg("discarding failure from superseded flow")
		return ErrSuperseded
	}
	fe := models.NewFlowError(err)
	c.snap.State = models.StateError
	c.snap.Error = fe
	c.notifyLocked()
	c.mu.Unlock()

	c.log.Error().Err(err).Str("code", string(fe.Code)).Msg("verification failed")
	c.host.Haptic(telegram.HapticError)
	c.notify.Notify(models.NewToast(models.ToastError, fe.Message))
	return err
}

// Retry returns from the error screen to welcome.
func (c *Controller) Retry() {
	c.mu.Lock()
	c.epoch++
	c.toWelcomeLocked()
	c.mu.Unlock()
	c.hideButton()
}

// RestoreSession tries to reuse the current wallet session and cleans up when there is none.
func (c *Controller) RestoreSession(ctx context.Context) bool {
	c.bump()
	conn, ok := c.wallet.CheckConnection(ctx)
	if !ok {
		c.wallet.ForceCleanup(ctx)
	}

	c.mu.Lock()
	c.toWelcomeLocked()
	if ok {
		c.snap.Connection = conn
	}
	c.mu.Unlock()
	c.hideButton()

	if ok {
		c.log.Info().Str("address", conn.Address).Msg("wallet session restored")
		c.notify.Notify(models.NewToast(models.ToastSuccess, constants.MsgSessionRestored))
	} else {
		c.notify.Notify(models.NewToast(models.ToastInfo, constants.MsgSessionCleared))
	}
	return ok
}

// StartFresh wipes every wallet trace and returns to welcome.
func (c *Controller) StartFresh(ctx context.Context) {
	c.bump()
	c.wallet.ForceCleanup(ctx)

	c.mu.Lock()
	c.toWelcomeLocked()
	c.mu.Unlock()
	c.hideButton()
	c.notify.Notify(models.NewToast(models.ToastInfo, constants.MsgSessionCleared))
}

// ViewStatus re-fetches the status and shows it.
func (c *Controller) ViewStatus(ctx context.Context) error {
	c.mu.Lock()
	switch c.snap.State {
	case models.StateWelcome, models.StateSuccess, models.StateStatus:
	default:
		state := c.snap.State
		c.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeValidation, "cannot view status from "+string(state))
	}
	epoch, from := c.epoch, c.snap.State
	c.snap.Busy = true
	c.notifyLocked()
	c.mu.Unlock()

	status, err := c.status.Refresh(ctx)

	c.mu.Lock()
	if epoch != c.epoch || c.snap.State != from {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.snap.Busy = false
	c.snap.State = models.StateStatus
	if err == nil {
		c.snap.Status = status
	} else {
		c.snap.Status = c.status.Current()
	}
	c.notifyLocked()
	c.mu.Unlock()

	if err != nil {
		c.notify.Notify(models.NewToast(models.ToastError, apperrors.UserMessage(err)))
		return err
	}
	return nil
}

// StartVerification leaves the status screen for welcome.
func (c *Controller) StartVerification() {
	c.mu.Lock()
	c.toWelcomeLocked()
	c.mu.Unlock()
	c.hideButton()
}

// Disconnect drops the wallet locally and on the backend, refreshes the status and returns to welcome.
func (c *Controller) Disconnect(ctx context.Context) error {
	epoch := c.bump()
	c.mu.Lock()
	c.snap.Busy = true
	c.notifyLocked()
	c.mu.Unlock()

	c.wallet.Disconnect(ctx)

	var backendErr error
	if resp, err := c.api.DisconnectWallet(ctx, nil, true); err != nil {
		backendErr = err
		c.log.Error().Err(err).Msg("backend disconnect failed")
		c.notify.Notify(models.NewToast(models.ToastError, apperrors.UserMessage(err)))
	} else {
		c.log.Info().Int("disconnected", resp.Disconnected).Str("new_tier", resp.NewTier).Msg("wallets disconnected")
		c.notify.Notify(models.NewToast(models.ToastSuccess, constants.MsgWalletDisconnected))
	}

	c.refreshStatus(ctx, epoch)

	c.mu.Lock()
	if epoch == c.epoch {
		c.toWelcomeLocked()
	}
	c.mu.Unlock()
	c.hideButton()
	return backendErr
}

// ReturnToBot closes the mini-app.
func (c *Controller) ReturnToBot() {
	c.host.Haptic(telegram.HapticSuccess)
	c.host.Close()
}

func (c *Controller) bump() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

func (c *Controller) stale(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch != c.epoch
}

func (c *Controller) toWelcomeLocked() {
	c.snap.State = models.StateWelcome
	c.snap.Error = nil
	c.snap.Result = nil
	c.snap.Connection = nil
	c.snap.Busy = false
	c.notifyLocked()
}

func (c *Controller) showCloseButton() {
	btn := c.host.MainButton()
	if btn == nil {
		return
	}
	btn.SetText(constants.MainButtonCloseText)
	btn.OnClick(c.ReturnToBot)
	btn.Show()
}

func (c *Controller) hideButton() {
	if btn := c.host.MainButton(); btn != nil {
		btn.Hide()
	}
}

// notifyLocked must be called with mu held. Subscribers run synchronously and must not call back into the controller.
func (c *Controller) notifyLocked() {
	c.snap.Epoch = c.epoch
	snap := c.snap
	for _, fn := range c.subs {
		fn(snap)
	}
}
