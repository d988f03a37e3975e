// Command stubapi serves a development backend that speaks the bot API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"bundlealert-miniapp/internal/common/config"
	"bundlealert-miniapp/internal/common/logger"
	"bundlealert-miniapp/internal/features/accounts/repository"
	memoryrepo "bundlealert-miniapp/internal/features/accounts/repository/memory"
	redisrepo "bundlealert-miniapp/internal/features/accounts/repository/redis"
	"bundlealert-miniapp/internal/features/accounts/service"
	apihttp "bundlealert-miniapp/internal/http"
	"bundlealert-miniapp/internal/platform/chain"
	rdb "bundlealert-miniapp/internal/platform/redis"
	"bundlealert-miniapp/internal/workers"
)

const serviceName = "bundlealert-stub-api"

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "stubapi",
		Usage:   "development backend for the BundleAlert mini-app",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "env-file", Usage: "dotenv files to load before reading the environment"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", EnvVars: []string{"DEBUG"}},
			&cli.IntFlag{Name: "port", Usage: "listen port, overrides PORT"},
			&cli.BoolFlag{Name: "no-chain", Usage: "skip the Ethereum node; every wallet verifies as tier 1"},
			&cli.BoolFlag{Name: "consume-events", Usage: "log tier events from the redis stream, as the bot would"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("stubapi failed")
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.StringSlice("env-file")...)
	if err != nil {
		return err
	}
	if cctx.IsSet("debug") {
		cfg.Debug = cctx.Bool("debug")
	}
	if cctx.IsSet("port") {
		cfg.Stub.Port = cctx.Int("port")
	}
	logger.InitWithWriter(serviceName, cfg.Debug, os.Stdout)

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	var opts []service.Option
	if st.redis != nil {
		opts = append(opts, service.WithEvents(workers.NewStreamPublisher(st.redis)))
		if cctx.Bool("consume-events") {
			worker := workers.NewRedisStreamWorker(st.redis, serviceName, workers.LogHandler(log.Logger), log.Logger)
			go worker.Start(ctx)
		}
	}

	var balances service.BalanceSource
	if cfg.Stub.TokenContract != "" && !cctx.Bool("no-chain") {
		reader, client, err := chain.Dial(ctx, cfg.Wallet.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()
		balances = reader
		log.Info().Str("rpc", cfg.Wallet.RPCURL).Str("token", cfg.Stub.TokenContract).Msg("Token balances enabled")
	}

	svc, err := service.NewService(st.repo, balances, cfg, log.Logger, opts...)
	if err != nil {
		return err
	}
	router := apihttp.NewRouter(svc, apihttp.RouterOptions{Origin: cfg.Stub.Origin, Debug: cfg.Debug, Ready: st.ready}, log.Logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Stub.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Stub.Port).Str("store", cfg.Stub.Store).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
	return nil
}

type store struct {
	repo  repository.Repository
	redis *goredis.Client
	ready apihttp.Pinger
	close func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.Stub.Store != "redis" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return &store{repo: memoryrepo.NewRepository(), close: func() {}}, nil
	}
	client, err := rdb.OpenFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &store{
		repo:  redisrepo.NewRepository(client.Client, cfg.Storage.Namespace+":stub"),
		redis: client.Client,
		ready: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close: func() { _ = client.Close() },
	}, nil
}
