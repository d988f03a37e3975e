package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/constants"
	"bundlealert-miniapp/internal/common/logger"
	userstatus "bundlealert-miniapp/internal/features/userstatus/service"
	verification "bundlealert-miniapp/internal/features/verification/service"
	"bundlealert-miniapp/internal/features/wallet/transport"
	walletsvc "bundlealert-miniapp/internal/features/wallet/service"
	"bundlealert-miniapp/internal/platform/botapi"
	rdb "bundlealert-miniapp/internal/platform/redis"
	"bundlealert-miniapp/internal/platform/storage"
	"bundlealert-miniapp/internal/platform/telegram"
)

// deps is the object graph shared by every command.
type deps struct {
	cfg     *config.Config
	log     zerolog.Logger
	stores  storage.Stores
	webapp  *telegram.TerminalWebApp
	bridge  *telegram.Bridge
	api     *botapi.Client
	tracker *userstatus.Tracker
	wallet  *walletsvc.Manager

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// loadDeps reads configuration, sets up logging to logOut and builds the graph.
// A nil logOut sends logs to LOG_FILE.
func loadDeps(cctx *cli.Context, logOut io.Writer, bridgeOpts ...telegram.Option) (*deps, error) {
	cfg, err := config.Load(cctx.StringSlice("env-file")...)
	if err != nil {
		return nil, err
	}
	if cctx.IsSet("debug") {
		cfg.Debug = cctx.Bool("debug")
	}

	d := &deps{cfg: cfg}
	if logOut == nil {
		f, err := logger.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = f.Close() })
		logOut = f
	}
	logger.InitWithWriter(serviceName, cfg.Debug, logOut)
	d.log = log.Logger

	if err := d.openStores(cctx.Context); err != nil {
		d.Close()
		return nil, err
	}

	d.webapp = telegram.NewTerminalWebApp(cfg.Telegram.InitData, os.Stderr)
	d.bridge = telegram.NewBridge(d.webapp, d.log, bridgeOpts...)
	d.api = botapi.New(cfg.API, d.stores.Local, d.bridge, d.log)
	d.tracker = userstatus.NewTracker(d.api, d.log)

	factory := transport.NewFactory(cfg.Wallet, d.stores.Local, d.log)
	d.wallet = walletsvc.NewManager(cfg.Wallet, walletsvc.NewSession(), factory, d.stores, d.log)

	d.log.Info().
		Str("api", cfg.API.BaseURL).
		Str("storage", cfg.Storage.Backend).
		Bool("telegram_data", cfg.Telegram.InitData != "").
		Msg("mini-app initialized")
	return d, nil
}

func (d *deps) openStores(ctx context.Context) error {
	d.stores.Session = storage.NewMemoryStore()
	switch d.cfg.Storage.Backend {
	case "redis":
		client, err := rdb.OpenFromConfig(ctx, d.cfg)
		if err != nil {
			return fmt.Errorf("open local storage: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.stores.Local = storage.NewRedisStore(client, d.cfg.Storage.Namespace, "local")
	default:
		d.stores.Local = storage.NewMemoryStore()
	}
	return nil
}

// controller builds the verification flow on top of the graph.
func (d *deps) controller(notify verification.Notifier) *verification.Controller {
	return verification.NewController(d.wallet, d.api, d.tracker, d.bridge, notify, d.cfg.Flow, d.log)
}

// ensureToken authenticates when no token is stored yet.
func (d *deps) ensureToken(ctx context.Context) error {
	if d.api.Token(ctx) != "" {
		return nil
	}
	_, err := d.api.AuthenticateTelegram(ctx)
	return err
}

// resetLocalState is the crash screen's reset: wallet cleanup plus token removal.
func (d *deps) resetLocalState(ctx context.Context) {
	d.wallet.ForceCleanup(ctx)
	d.api.ClearToken(ctx)
	for _, s := range d.stores.All() {
		if err := s.Remove(ctx, constants.StorageSessionToken); err != nil {
			d.log.Warn().Err(err).Msg("remove session token")
		}
	}
}
